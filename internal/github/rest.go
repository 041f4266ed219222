package github

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v80/github"
)

// --------------------------------------------------------------------------
// Pagination helper
// --------------------------------------------------------------------------

// fetchAllPages repeatedly runs fetchPage through the limiter with
// incrementing page numbers until no more pages remain. It returns the number
// of page fetches issued. fetchPage must populate its own result slice and
// return the go-github Response (which carries pagination info).
func (c *Client) fetchAllPages(ctx context.Context, fetchPage func(ctx context.Context, page int) (*gh.Response, error)) (int, error) {
	page := 1
	calls := 0
	for {
		var resp *gh.Response
		err := c.limiter.Schedule(ctx, PriorityNormal, func(ctx context.Context) error {
			var ferr error
			resp, ferr = fetchPage(ctx, page)
			c.syncReservoir(resp)
			return ferr
		})
		calls++
		if err != nil {
			return calls, err
		}
		if resp == nil || resp.NextPage == 0 {
			return calls, nil
		}
		page = resp.NextPage
	}
}

// --------------------------------------------------------------------------
// Pull requests
// --------------------------------------------------------------------------

// ListPullRequestsPage fetches one page of pull requests, most recently
// updated first. The PR list endpoint has no server-side since filter, so
// incremental exports filter on UpdatedAt client-side. lastPage is true when
// no further pages exist.
func (c *Client) ListPullRequestsPage(ctx context.Context, owner, repo string, page, perPage int) (prs []*gh.PullRequest, lastPage bool, err error) {
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	}

	err = c.limiter.Schedule(ctx, PriorityNormal, func(ctx context.Context) error {
		var resp *gh.Response
		var ferr error
		prs, resp, ferr = c.gh.PullRequests.List(ctx, owner, repo, opts)
		c.syncReservoir(resp)
		if ferr != nil {
			return wrapError(ferr, fmt.Sprintf("listing pull requests for %s/%s (page %d)", owner, repo, page))
		}
		lastPage = resp.NextPage == 0
		return nil
	})
	return prs, lastPage, err
}

// --------------------------------------------------------------------------
// Issues
// --------------------------------------------------------------------------

// ListIssuesPage fetches one page of issues updated at or after since (zero
// disables the filter). Pull requests, which the issues endpoint also
// returns, are filtered out, so lastPage comes from the response's
// pagination info rather than the filtered length.
func (c *Client) ListIssuesPage(ctx context.Context, owner, repo string, since time.Time, page, perPage int) (issues []*gh.Issue, lastPage bool, err error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	}
	if !since.IsZero() {
		opts.Since = since
	}

	err = c.limiter.Schedule(ctx, PriorityNormal, func(ctx context.Context) error {
		raw, resp, ferr := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
		c.syncReservoir(resp)
		if ferr != nil {
			return wrapError(ferr, fmt.Sprintf("listing issues for %s/%s (page %d)", owner, repo, page))
		}
		issues = issues[:0]
		for _, is := range raw {
			if is.IsPullRequest() {
				continue
			}
			issues = append(issues, is)
		}
		lastPage = resp.NextPage == 0
		return nil
	})
	return issues, lastPage, err
}

// --------------------------------------------------------------------------
// Commits
// --------------------------------------------------------------------------

// ListCommitsPage fetches one page of commits on the default branch, newest
// first, optionally limited to commits authored at or after since. lastPage
// is true when no further pages exist.
func (c *Client) ListCommitsPage(ctx context.Context, owner, repo string, since time.Time, page, perPage int) (commits []*gh.RepositoryCommit, lastPage bool, err error) {
	opts := &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: perPage},
	}
	if !since.IsZero() {
		opts.Since = since
	}

	err = c.limiter.Schedule(ctx, PriorityNormal, func(ctx context.Context) error {
		var resp *gh.Response
		var ferr error
		commits, resp, ferr = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		c.syncReservoir(resp)
		if ferr != nil {
			return wrapError(ferr, fmt.Sprintf("listing commits for %s/%s (page %d)", owner, repo, page))
		}
		lastPage = resp.NextPage == 0
		return nil
	})
	return commits, lastPage, err
}

// --------------------------------------------------------------------------
// Branches
// --------------------------------------------------------------------------

// ListBranches returns all branches of the repository, paginating
// automatically. The second return value is the number of API calls issued.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]*gh.Branch, int, error) {
	var all []*gh.Branch

	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{PerPage: c.PageSize()},
	}

	calls, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (*gh.Response, error) {
		opts.Page = page
		branches, resp, ferr := c.gh.Repositories.ListBranches(ctx, owner, repo, opts)
		if ferr != nil {
			return resp, wrapError(ferr, fmt.Sprintf("listing branches for %s/%s (page %d)", owner, repo, page))
		}
		all = append(all, branches...)
		return resp, nil
	})

	return all, calls, err
}

// --------------------------------------------------------------------------
// Releases
// --------------------------------------------------------------------------

// ListReleases returns all releases of the repository, paginating
// automatically. The second return value is the number of API calls issued.
func (c *Client) ListReleases(ctx context.Context, owner, repo string) ([]*gh.RepositoryRelease, int, error) {
	var all []*gh.RepositoryRelease

	opts := &gh.ListOptions{PerPage: c.PageSize()}

	calls, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (*gh.Response, error) {
		opts.Page = page
		releases, resp, ferr := c.gh.Repositories.ListReleases(ctx, owner, repo, opts)
		if ferr != nil {
			return resp, wrapError(ferr, fmt.Sprintf("listing releases for %s/%s (page %d)", owner, repo, page))
		}
		all = append(all, releases...)
		return resp, nil
	})

	return all, calls, err
}
