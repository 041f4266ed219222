package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Checkpoint records the last successful export of one resource type of one
// repository.
type Checkpoint struct {
	Repository   string    `json:"repository"`
	ResourceType string    `json:"resource_type"`
	LastExportAt time.Time `json:"last_export_at"`
	LastCount    int       `json:"last_count"`
	Format       string    `json:"format"`
	OutputPath   string    `json:"output_path"`
}

// document is the persisted form of the full checkpoint set.
type document struct {
	Version     int                   `json:"version"`
	Checkpoints map[string]Checkpoint `json:"checkpoints"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

const documentVersion = 1

// DiffOptions tells an exporter whether to run incrementally and from when.
type DiffOptions struct {
	// Enabled is true when a prior checkpoint exists and a full export was
	// not forced.
	Enabled bool

	// Since is the prior checkpoint's timestamp; zero when Enabled is false.
	Since time.Time

	// ForceFullExport records that incremental mode was explicitly overridden.
	ForceFullExport bool
}

// Manager owns the checkpoint document. All load-mutate-save cycles run under
// one mutex so concurrent exports cannot interleave partial updates.
type Manager struct {
	mu     sync.Mutex
	store  DocumentStore
	doc    document
	loaded bool
	logger *logrus.Entry
}

// NewManager creates a Manager over the given store. The document is loaded
// lazily on first access.
func NewManager(store DocumentStore, logger *logrus.Entry) *Manager {
	return &Manager{store: store, logger: logger}
}

func checkpointKey(repository, resourceType string) string {
	return repository + "|" + resourceType
}

// ensureLoaded reads the document from the store once. A missing document
// starts empty; a corrupt one is logged and replaced by an empty document
// rather than aborting the run. Caller holds mu.
func (m *Manager) ensureLoaded(ctx context.Context) {
	if m.loaded {
		return
	}
	m.loaded = true
	m.doc = document{Version: documentVersion, Checkpoints: make(map[string]Checkpoint)}

	data, err := m.store.Load(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("could not load export state, starting fresh")
		return
	}
	if data == nil {
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.WithError(err).Warn("export state is corrupt, starting fresh")
		return
	}
	if doc.Checkpoints == nil {
		doc.Checkpoints = make(map[string]Checkpoint)
	}
	m.doc = doc
}

// persistLocked saves the document. Save failures are logged, not returned:
// a checkpoint that fails to persist costs one redundant export next run, not
// this run's results. Caller holds mu.
func (m *Manager) persistLocked(ctx context.Context) {
	m.doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		m.logger.WithError(err).Error("could not serialize export state")
		return
	}
	if err := m.store.Save(ctx, data); err != nil {
		m.logger.WithError(err).Warn("could not persist export state")
	}
}

// GetLastExport returns the checkpoint for a repository/resource pair.
func (m *Manager) GetLastExport(ctx context.Context, repository, resourceType string) (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	cp, ok := m.doc.Checkpoints[checkpointKey(repository, resourceType)]
	return cp, ok
}

// UpdateExportState upserts the checkpoint for a repository/resource pair and
// persists the document. The checkpoint timestamp is taken at call time.
func (m *Manager) UpdateExportState(ctx context.Context, repository, resourceType string, count int, format, outputPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	m.doc.Checkpoints[checkpointKey(repository, resourceType)] = Checkpoint{
		Repository:   repository,
		ResourceType: resourceType,
		LastExportAt: time.Now().UTC(),
		LastCount:    count,
		Format:       format,
		OutputPath:   outputPath,
	}
	m.persistLocked(ctx)
}

// GetDiffModeOptions decides how the next export of a repository/resource
// pair should run. A forced full export and a missing checkpoint both disable
// incremental mode; otherwise the prior checkpoint's timestamp becomes the
// lower bound.
func (m *Manager) GetDiffModeOptions(ctx context.Context, repository, resourceType string, forceFull bool) DiffOptions {
	if forceFull {
		return DiffOptions{ForceFullExport: true}
	}

	cp, ok := m.GetLastExport(ctx, repository, resourceType)
	if !ok {
		return DiffOptions{}
	}
	return DiffOptions{Enabled: true, Since: cp.LastExportAt}
}

// DeleteExportState removes the checkpoint for a repository/resource pair.
func (m *Manager) DeleteExportState(ctx context.Context, repository, resourceType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	key := checkpointKey(repository, resourceType)
	if _, ok := m.doc.Checkpoints[key]; !ok {
		return
	}
	delete(m.doc.Checkpoints, key)
	m.persistLocked(ctx)
}

// GetRepositoryStates returns every checkpoint belonging to a repository.
func (m *Manager) GetRepositoryStates(ctx context.Context, repository string) []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	var out []Checkpoint
	for _, cp := range m.doc.Checkpoints {
		if cp.Repository == repository {
			out = append(out, cp)
		}
	}
	return out
}

// Checkpoints returns every stored checkpoint.
func (m *Manager) Checkpoints(ctx context.Context) []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	out := make([]Checkpoint, 0, len(m.doc.Checkpoints))
	for _, cp := range m.doc.Checkpoints {
		out = append(out, cp)
	}
	return out
}

// Clear removes every checkpoint and persists the empty document.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded(ctx)

	m.doc.Checkpoints = make(map[string]Checkpoint)
	m.persistLocked(ctx)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("closing state store: %w", err)
	}
	return nil
}
