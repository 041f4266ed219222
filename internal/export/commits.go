package export

import (
	"context"
	"time"

	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/retry"
)

// commitExporter exports commits on the default branch, newest first.
type commitExporter struct {
	base
}

func newCommitExporter(d Deps, maxItems, chunkSize int) *commitExporter {
	return &commitExporter{base: newBase(ResourceCommits, d, maxItems, chunkSize)}
}

func (e *commitExporter) Export(ctx context.Context, repository string, opts Options) *Result {
	return e.export(ctx, repository, opts, e.fetch)
}

func (e *commitExporter) fetch(ctx context.Context, owner, name string, opts Options) (*fetchOutcome, error) {
	var since time.Time
	if opts.DiffMode {
		since = opts.Since
	}

	exec := e.newExecutor()
	apiCalls := 0
	exhausted := false

	result, err := retry.ExecuteWithChunking(ctx, exec, e.chunkSize,
		func(ctx context.Context, chunk retry.Chunk) ([]exportItem, error) {
			if exhausted {
				return nil, nil
			}

			// Every page is requested at the full chunk size; a smaller
			// per_page on the final chunk would shift the page arithmetic
			// and re-fetch earlier items.
			apiCalls++
			commits, lastPage, err := e.client.ListCommitsPage(ctx, owner, name, since, chunk.Index+1, e.chunkSize)
			if err != nil {
				return nil, err
			}
			if lastPage {
				exhausted = true
			}

			items := make([]exportItem, 0, len(commits))
			for _, cm := range commits {
				item, merr := marshalItem(cm.GetSHA(), cm)
				if merr != nil {
					return nil, merr
				}
				items = append(items, item)
			}
			if len(items) > chunk.Size {
				items = items[:chunk.Size]
			}
			return items, nil
		}, github.IsRetryable)
	if err != nil {
		return &fetchOutcome{apiCalls: apiCalls}, err
	}
	return outcomeFromResult(result, apiCalls), nil
}
