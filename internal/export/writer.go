package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format names accepted by NewWriter.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// Writer serializes exported items into the output directory. Layout is
// <dir>/<owner>/<repo>/<resource>/, with one pretty-printed file per item in
// json format or one appended line per item in ndjson format.
type Writer struct {
	format string
	logger *logrus.Entry
}

// NewWriter creates a Writer for the given format.
func NewWriter(format string, logger *logrus.Entry) (*Writer, error) {
	switch format {
	case "", FormatJSON:
		format = FormatJSON
	case FormatNDJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &Writer{format: format, logger: logger}, nil
}

// Format returns the writer's output format.
func (w *Writer) Format() string {
	return w.format
}

// resourceDir builds and creates the directory for one repository/resource
// pair. The repository reference's owner/name slash becomes a path separator.
func (w *Writer) resourceDir(outputDir, repository string, resource Resource) (string, error) {
	dir := filepath.Join(outputDir, filepath.FromSlash(repository), string(resource))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return dir, nil
}

// sanitizeID makes an item identifier filesystem-safe.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	if id == "" {
		id = "unnamed"
	}
	return id
}

// WriteItem persists one item. In json format each item gets its own
// <id>.json file written atomically; in ndjson format items append to a
// single <resource>.ndjson file.
func (w *Writer) WriteItem(outputDir, repository string, resource Resource, id string, payload json.RawMessage) error {
	dir, err := w.resourceDir(outputDir, repository, resource)
	if err != nil {
		return err
	}

	if w.format == FormatNDJSON {
		return w.appendLine(filepath.Join(dir, string(resource)+".ndjson"), payload)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		return fmt.Errorf("formatting item %s: %w", id, err)
	}

	path := filepath.Join(dir, sanitizeID(id)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing item %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing item %s: %w", id, err)
	}
	return nil
}

func (w *Writer) appendLine(path string, payload json.RawMessage) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	line := append(bytes.TrimSpace(payload), '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}

// TruncateResource clears the ndjson file for a repository/resource pair so a
// rerun does not duplicate lines. A no-op in json format, where item files
// are simply overwritten.
func (w *Writer) TruncateResource(outputDir, repository string, resource Resource) error {
	if w.format != FormatNDJSON {
		return nil
	}
	dir, err := w.resourceDir(outputDir, repository, resource)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, string(resource)+".ndjson")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	return nil
}

// WriteSummary writes a named JSON document at the output root.
func (w *Writer) WriteSummary(outputDir, name string, payload any) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing summary: %w", err)
	}

	path := filepath.Join(outputDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("committing summary: %w", err)
	}
	return path, nil
}

// SummaryName builds a timestamped summary file name.
func SummaryName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s.json", prefix, at.UTC().Format("20060102T150405Z"))
}
