package export

import (
	"context"
	"strconv"

	gh "github.com/google/go-github/v80/github"

	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/retry"
)

// releaseExporter exports all releases. Like branches, releases are exported
// as a full snapshot on every run.
type releaseExporter struct {
	base
}

func newReleaseExporter(d Deps, maxItems, chunkSize int) *releaseExporter {
	return &releaseExporter{base: newBase(ResourceReleases, d, maxItems, chunkSize)}
}

func (e *releaseExporter) Export(ctx context.Context, repository string, opts Options) *Result {
	opts.DiffMode = false
	return e.export(ctx, repository, opts, e.fetch)
}

func releaseID(rel *gh.RepositoryRelease) string {
	if tag := rel.GetTagName(); tag != "" {
		return tag
	}
	return strconv.FormatInt(rel.GetID(), 10)
}

func (e *releaseExporter) fetch(ctx context.Context, owner, name string, _ Options) (*fetchOutcome, error) {
	exec := e.newExecutor()
	apiCalls := 0
	seen := make(map[string]bool)

	result, err := retry.ExecuteWithPartialRecovery(ctx, exec,
		func(ctx context.Context, progress func([]exportItem)) ([]exportItem, error) {
			releases, calls, ferr := e.client.ListReleases(ctx, owner, name)
			apiCalls += calls

			items := make([]exportItem, 0, len(releases))
			for _, rel := range releases {
				item, merr := marshalItem(releaseID(rel), rel)
				if merr != nil {
					return nil, merr
				}
				items = append(items, item)
			}
			if ferr != nil {
				fresh := items[:0:0]
				for _, item := range items {
					if !seen[item.ID] {
						seen[item.ID] = true
						fresh = append(fresh, item)
					}
				}
				progress(fresh)
				return nil, ferr
			}
			return items, nil
		}, github.IsRetryable)
	if err != nil {
		return &fetchOutcome{apiCalls: apiCalls}, err
	}
	return outcomeFromResult(result, apiCalls), nil
}
