package export

import (
	"context"
	"strconv"
	"time"

	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/retry"
)

// issueExporter exports issues. The issues endpoint supports a server-side
// since filter, so incremental runs pass the checkpoint straight through.
type issueExporter struct {
	base
}

func newIssueExporter(d Deps, maxItems, chunkSize int) *issueExporter {
	return &issueExporter{base: newBase(ResourceIssues, d, maxItems, chunkSize)}
}

func (e *issueExporter) Export(ctx context.Context, repository string, opts Options) *Result {
	return e.export(ctx, repository, opts, e.fetch)
}

func (e *issueExporter) fetch(ctx context.Context, owner, name string, opts Options) (*fetchOutcome, error) {
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
			issues, lastPage, err := e.client.ListIssuesPage(ctx, owner, name, since, chunk.Index+1, e.chunkSize)
			if err != nil {
				return nil, err
			}
			if lastPage {
				exhausted = true
			}

			items := make([]exportItem, 0, len(issues))
			for _, is := range issues {
				item, merr := marshalItem(strconv.Itoa(is.GetNumber()), is)
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
