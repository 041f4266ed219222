package export

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/cache"
	"github.com/reposcribe/reposcribe/internal/config"
	"github.com/reposcribe/reposcribe/internal/github"
)

// Deps bundles the collaborators every exporter needs. CacheTTL bounds how
// long a cached fetch result may be served before a refetch.
type Deps struct {
	Client    *github.Client
	Durable   *cache.Durable
	Memory    *cache.Memory
	Writer    *Writer
	Logger    *logrus.Entry
	Resources config.ResourcesConfig
	CacheTTL  time.Duration
}

// Registry holds the constructed exporters, one per enabled resource type.
type Registry struct {
	exporters map[Resource]Exporter
}

// NewRegistry constructs an exporter for every resource type enabled in the
// configuration.
func NewRegistry(d Deps) *Registry {
	r := &Registry{exporters: make(map[Resource]Exporter)}

	if rc := d.Resources.PullRequests; rc.Enabled {
		r.exporters[ResourcePullRequests] = newPullRequestExporter(d, rc.MaxItems, rc.ChunkSize)
	}
	if rc := d.Resources.Issues; rc.Enabled {
		r.exporters[ResourceIssues] = newIssueExporter(d, rc.MaxItems, rc.ChunkSize)
	}
	if rc := d.Resources.Commits; rc.Enabled {
		r.exporters[ResourceCommits] = newCommitExporter(d, rc.MaxItems, rc.ChunkSize)
	}
	if rc := d.Resources.Branches; rc.Enabled {
		r.exporters[ResourceBranches] = newBranchExporter(d, rc.MaxItems, rc.ChunkSize)
	}
	if rc := d.Resources.Releases; rc.Enabled {
		r.exporters[ResourceReleases] = newReleaseExporter(d, rc.MaxItems, rc.ChunkSize)
	}

	return r
}

// Get returns the exporter for a resource type, or an error when the type is
// unknown or disabled.
func (r *Registry) Get(resource Resource) (Exporter, error) {
	exp, ok := r.exporters[resource]
	if !ok {
		return nil, fmt.Errorf("no exporter registered for resource %q", resource)
	}
	return exp, nil
}

// Enabled lists the registered resource types in export order.
func (r *Registry) Enabled() []Resource {
	var out []Resource
	for _, res := range AllResources() {
		if _, ok := r.exporters[res]; ok {
			out = append(out, res)
		}
	}
	return out
}
