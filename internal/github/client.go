// Package github wraps the go-github client with rate limiting and the
// listers the exporters need. All outbound calls go through the Limiter;
// only the quota-status probe bypasses it.
package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v80/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/reposcribe/reposcribe/internal/config"
)

// Client is the single entry-point for all GitHub API interactions.
type Client struct {
	gh         *gh.Client
	limiter    *Limiter
	logger     *logrus.Entry
	baseURL    string
	token      string
	useGraphQL bool
	pageSize   int
}

// New creates a Client configured against github.com or, when cfg.BaseURL is
// set, a GitHub Enterprise instance.
func New(cfg config.GitHubConfig, logger *logrus.Entry) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = cfg.RequestTimeout()

	rest := gh.NewClient(tc)
	if cfg.BaseURL != "" {
		var err error
		rest, err = rest.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise base URL: %w", err)
		}
	}

	c := &Client{
		gh:         rest,
		logger:     logger,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		useGraphQL: cfg.UseGraphQL,
		pageSize:   cfg.PageSize,
	}
	c.limiter = NewLimiter(
		cfg.HourlyQuota,
		cfg.MaxConcurrent,
		cfg.MinSpacing(),
		c.fetchStatus,
		logger.WithField("component", "rate_limiter"),
	)

	return c, nil
}

// Limiter returns the rate limiter associated with this client.
func (c *Client) Limiter() *Limiter {
	return c.limiter
}

// UseGraphQL reports whether the GraphQL transport is enabled.
func (c *Client) UseGraphQL() bool {
	return c.useGraphQL
}

// PageSize returns the configured REST page size.
func (c *Client) PageSize() int {
	if c.pageSize <= 0 {
		return 100
	}
	return c.pageSize
}

// fetchStatus is the limiter's StatusFunc. It queries /rate_limit directly;
// that endpoint does not count against the quota.
func (c *Client) fetchStatus(ctx context.Context) (Status, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return Status{}, wrapError(err, "get rate limit")
	}
	core := limits.GetCore()
	if core == nil {
		return Status{}, fmt.Errorf("rate limit response missing core quota")
	}
	return Status{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Used:      core.Limit - core.Remaining,
		ResetAt:   core.Reset.Time,
	}, nil
}

// SplitRepository splits an "owner/name" reference.
func SplitRepository(full string) (owner, name string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, full)
	}
	return parts[0], parts[1], nil
}

// ResolveRepository validates that the repository reference is well-formed,
// exists, and is accessible with the configured token. It is called once per
// repository before any resource export starts.
func (c *Client) ResolveRepository(ctx context.Context, full string) error {
	owner, name, err := SplitRepository(full)
	if err != nil {
		return err
	}

	return c.limiter.Schedule(ctx, PriorityHigh, func(ctx context.Context) error {
		_, resp, err := c.gh.Repositories.Get(ctx, owner, name)
		c.syncReservoir(resp)
		if err != nil {
			return wrapError(err, fmt.Sprintf("resolving repository %s", full))
		}
		return nil
	})
}

// syncReservoir feeds the authoritative remaining count from a response back
// into the limiter. When the X-RateLimit headers are absent go-github leaves
// Rate zero-valued; syncing that would drain the reservoir, so only responses
// that actually carried a limit are trusted.
func (c *Client) syncReservoir(resp *gh.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	c.limiter.UpdateReservoir(resp.Rate.Remaining)
}
