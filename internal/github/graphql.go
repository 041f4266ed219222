package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	graphql "github.com/hasura/go-graphql-client"
)

// --------------------------------------------------------------------------
// GraphQL transport (adds the Authorization header)
// --------------------------------------------------------------------------

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "bearer "+t.token)
	return t.base.RoundTrip(req)
}

// --------------------------------------------------------------------------
// GraphQL client wrapper
// --------------------------------------------------------------------------

// graphQLClient wraps the hasura go-graphql-client with GitHub auth.
type graphQLClient struct {
	client *graphql.Client
}

// newGraphQLClient creates a GraphQL client targeting github.com or, for
// enterprise instances, <baseURL>/api/graphql.
func newGraphQLClient(baseURL, token string) *graphQLClient {
	httpClient := &http.Client{
		Transport: &tokenTransport{
			token: token,
			base:  http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	endpoint := "https://api.github.com/graphql"
	if baseURL != "" {
		endpoint = baseURL + "/api/graphql"
	}

	return &graphQLClient{
		client: graphql.NewClient(endpoint, httpClient),
	}
}

// --------------------------------------------------------------------------
// GraphQL response types
// --------------------------------------------------------------------------

// PullRequestNode is the GraphQL representation of a pull request.
type PullRequestNode struct {
	Number      int     `graphql:"number" json:"number"`
	Title       string  `graphql:"title" json:"title"`
	State       string  `graphql:"state" json:"state"`
	CreatedAt   string  `graphql:"createdAt" json:"created_at"`
	UpdatedAt   string  `graphql:"updatedAt" json:"updated_at"`
	MergedAt    *string `graphql:"mergedAt" json:"merged_at,omitempty"`
	BaseRefName string  `graphql:"baseRefName" json:"base_ref"`
	HeadRefName string  `graphql:"headRefName" json:"head_ref"`
	URL         string  `graphql:"url" json:"url"`
	Additions   int     `graphql:"additions" json:"additions"`
	Deletions   int     `graphql:"deletions" json:"deletions"`
}

// --------------------------------------------------------------------------
// GraphQL queries
// --------------------------------------------------------------------------

// FetchRecentPullRequests fetches the most recently updated pull requests of
// a repository in a single GraphQL request. first is capped at 100 by the
// API. Reservoir accounting treats the query as one call.
func (c *Client) FetchRecentPullRequests(ctx context.Context, owner, name string, first int) ([]PullRequestNode, error) {
	if !c.useGraphQL {
		return nil, fmt.Errorf("GraphQL is not enabled on this client")
	}
	if first < 1 || first > 100 {
		first = 100
	}

	gql := newGraphQLClient(c.baseURL, c.token)

	var nodes []PullRequestNode
	err := c.limiter.Schedule(ctx, PriorityNormal, func(ctx context.Context) error {
		var query struct {
			Repository struct {
				PullRequests struct {
					Nodes []PullRequestNode `graphql:"nodes"`
				} `graphql:"pullRequests(first: $first, states: [OPEN, CLOSED, MERGED], orderBy: {field: UPDATED_AT, direction: DESC})"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}

		variables := map[string]interface{}{
			"owner": graphql.String(owner),
			"name":  graphql.String(name),
			"first": graphql.Int(first),
		}

		if err := gql.client.Query(ctx, &query, variables); err != nil {
			return fmt.Errorf("GraphQL: fetching pull requests for %s/%s: %w", owner, name, err)
		}
		nodes = query.Repository.PullRequests.Nodes
		return nil
	})

	return nodes, err
}
