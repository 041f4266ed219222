package export

import (
	"time"
)

// Options parameterizes one export run of one repository/resource pair.
type Options struct {
	// DiffMode, when true, limits the export to items updated at or after
	// Since.
	DiffMode bool

	// Since is the incremental lower bound; meaningful only with DiffMode.
	Since time.Time

	// ForceFull records that incremental mode was explicitly overridden.
	ForceFull bool

	// Format is the output serialization ("json" or "ndjson").
	Format string

	// OutputDir is the export root directory.
	OutputDir string
}

// Result is the outcome of one export run of one repository/resource pair.
type Result struct {
	Success       bool
	ItemsExported int
	ItemsFailed   int
	APICalls      int
	CacheHits     int
	Duration      time.Duration
	Errors        []string
}
