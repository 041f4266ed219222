package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/cache"
	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/metrics"
	"github.com/reposcribe/reposcribe/internal/retry"
)

// Exporter exports one resource type of one repository.
type Exporter interface {
	ResourceType() Resource
	Export(ctx context.Context, repository string, opts Options) *Result
}

// exportItem is the normalized unit every fetcher produces: a stable
// identifier plus the item's serialized payload.
type exportItem struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// fetchOutcome is what a resource-specific fetcher hands back to the shared
// pipeline.
type fetchOutcome struct {
	items    []exportItem
	apiCalls int
	// errors lists permanent per-chunk failures; success is false when any
	// part of the dataset was lost.
	errors  []string
	success bool
}

// fetchFunc fetches one repository's items for one resource type.
type fetchFunc func(ctx context.Context, owner, name string, opts Options) (*fetchOutcome, error)

// base carries the pipeline every exporter shares: cache lookup, fetch,
// cache fill, and item writing.
type base struct {
	resource  Resource
	client    *github.Client
	durable   *cache.Durable
	memory    *cache.Memory
	writer    *Writer
	logger    *logrus.Entry
	maxItems  int
	chunkSize int
	cacheTTL  time.Duration
}

func newBase(resource Resource, d Deps, maxItems, chunkSize int) base {
	return base{
		resource:  resource,
		client:    d.Client,
		durable:   d.Durable,
		memory:    d.Memory,
		writer:    d.Writer,
		logger:    d.Logger.WithField("component", "exporter").WithField("resource", string(resource)),
		maxItems:  maxItems,
		chunkSize: chunkSize,
		cacheTTL:  d.CacheTTL,
	}
}

func (b *base) ResourceType() Resource {
	return b.resource
}

// cacheKey identifies one fetch's result set. The incremental lower bound is
// part of the key so a diff fetch never shadows a full one.
func (b *base) cacheKey(repository string, opts Options) string {
	var since int64
	if opts.DiffMode {
		since = opts.Since.Unix()
	}
	return fmt.Sprintf("%s:%s:%d", repository, b.resource, since)
}

// lookupCached checks the in-process cache, then the durable cache, promoting
// durable hits into memory.
func (b *base) lookupCached(key string) ([]exportItem, bool) {
	if v, ok := b.memory.Get(key); ok {
		if items, ok := v.([]exportItem); ok {
			return items, true
		}
	}

	var items []exportItem
	if _, ok := b.durable.GetJSON(key, &items); ok {
		b.memory.Set(key, items)
		return items, true
	}
	return nil, false
}

// storeCached fills both caches after a fully successful fetch. Partial
// results are never cached: a later run must refetch the lost chunks. The
// durable entry carries the configured TTL so a rerun past it goes back to
// the API instead of serving stale data forever.
func (b *base) storeCached(key string, items []exportItem) {
	b.memory.Set(key, items)
	if err := b.durable.Set(key, items, string(b.resource), b.cacheTTL); err != nil {
		b.logger.WithError(err).Warn("could not persist fetch result to durable cache")
	}
}

// export runs the shared pipeline around a resource-specific fetcher.
func (b *base) export(ctx context.Context, repository string, opts Options, fetch fetchFunc) *Result {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.Duration = time.Since(start)
	}()

	owner, name, err := github.SplitRepository(repository)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	log := b.logger.WithField("repository", repository)

	key := b.cacheKey(repository, opts)
	items, cached := b.lookupCached(key)
	fetchOK := true
	if cached {
		res.CacheHits = 1
		log.WithField("items", len(items)).Debug("serving fetch from cache")
	} else {
		outcome, err := fetch(ctx, owner, name, opts)
		if outcome != nil {
			res.APICalls = outcome.apiCalls
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res
		}

		items = outcome.items
		fetchOK = outcome.success
		res.Errors = append(res.Errors, outcome.errors...)
		if fetchOK {
			b.storeCached(key, items)
		}
	}

	if err := b.writer.TruncateResource(opts.OutputDir, repository, b.resource); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	for _, item := range items {
		if err := b.writer.WriteItem(opts.OutputDir, repository, b.resource, item.ID, item.Payload); err != nil {
			res.ItemsFailed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.ItemsExported++
	}

	metrics.ItemsExported.WithLabelValues(string(b.resource)).Add(float64(res.ItemsExported))
	res.Success = fetchOK && res.ItemsFailed == 0

	log.WithFields(logrus.Fields{
		"exported":  res.ItemsExported,
		"failed":    res.ItemsFailed,
		"api_calls": res.APICalls,
		"cached":    cached,
		"success":   res.Success,
	}).Info("export finished")

	return res
}

// newExecutor derives the adaptive retry executor from the declared dataset
// ceiling.
func (b *base) newExecutor() *retry.Executor {
	return retry.NewExecutor(b.maxItems, b.logger)
}

// outcomeFromResult converts a retry result into a fetch outcome.
func outcomeFromResult(r *retry.Result[exportItem], apiCalls int) *fetchOutcome {
	return &fetchOutcome{
		items:    r.Data,
		apiCalls: apiCalls,
		errors:   r.Errors,
		success:  r.Success,
	}
}

// marshalItem builds an exportItem from any serializable value.
func marshalItem(id string, v any) (exportItem, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return exportItem{}, fmt.Errorf("serializing item %s: %w", id, err)
	}
	return exportItem{ID: id, Payload: payload}, nil
}
