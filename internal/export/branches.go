package export

import (
	"context"

	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/retry"
)

// branchExporter exports all branches. Branches are a point-in-time snapshot,
// so incremental bounds do not apply; every run exports the full set.
type branchExporter struct {
	base
}

func newBranchExporter(d Deps, maxItems, chunkSize int) *branchExporter {
	return &branchExporter{base: newBase(ResourceBranches, d, maxItems, chunkSize)}
}

func (e *branchExporter) Export(ctx context.Context, repository string, opts Options) *Result {
	// Snapshot resources always export in full.
	opts.DiffMode = false
	return e.export(ctx, repository, opts, e.fetch)
}

func (e *branchExporter) fetch(ctx context.Context, owner, name string, _ Options) (*fetchOutcome, error) {
	exec := e.newExecutor()
	apiCalls := 0
	seen := make(map[string]bool)

	result, err := retry.ExecuteWithPartialRecovery(ctx, exec,
		func(ctx context.Context, progress func([]exportItem)) ([]exportItem, error) {
			branches, calls, ferr := e.client.ListBranches(ctx, owner, name)
			apiCalls += calls

			items := make([]exportItem, 0, len(branches))
			for _, br := range branches {
				item, merr := marshalItem(br.GetName(), br)
				if merr != nil {
					return nil, merr
				}
				items = append(items, item)
			}
			if ferr != nil {
				// A retry restarts from page one, so only report items not
				// already recorded by an earlier attempt.
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
