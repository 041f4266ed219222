// Package export implements the per-resource exporters and the shared
// fetch-cache-write pipeline they run on.
package export

import (
	"fmt"
	"strings"
)

// Resource identifies one exportable resource type.
type Resource string

const (
	ResourcePullRequests Resource = "pull_requests"
	ResourceIssues       Resource = "issues"
	ResourceCommits      Resource = "commits"
	ResourceBranches     Resource = "branches"
	ResourceReleases     Resource = "releases"
)

// AllResources lists every known resource type in export order.
func AllResources() []Resource {
	return []Resource{
		ResourcePullRequests,
		ResourceIssues,
		ResourceCommits,
		ResourceBranches,
		ResourceReleases,
	}
}

// ParseResources converts resource names to Resource values, failing fast on
// the first unknown name. An empty list means all resources.
func ParseResources(names []string) ([]Resource, error) {
	if len(names) == 0 {
		return AllResources(), nil
	}

	known := make(map[Resource]bool, len(AllResources()))
	for _, r := range AllResources() {
		known[r] = true
	}

	out := make([]Resource, 0, len(names))
	for _, name := range names {
		r := Resource(strings.TrimSpace(name))
		if !known[r] {
			return nil, fmt.Errorf("unknown resource type %q", name)
		}
		out = append(out, r)
	}
	return out, nil
}
