// Package evidence writes a generation run to disk: run metadata, one file
// per filled item, and content-addressed blobs for the inputs.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zen-systems/sitegen/pkg/pipeline"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID         string                     `json:"id"`
	Timestamp  time.Time                  `json:"timestamp"`
	PromptRef  string                     `json:"prompt_ref"`
	PromptHash string                     `json:"prompt_hash"`
	Industry   string                     `json:"industry,omitempty"`
	Priority   string                     `json:"priority"`
	Success    bool                       `json:"success"`
	Selection  pipeline.SelectionInfo     `json:"selection"`
	Items      []ItemRecord               `json:"items"`
	Errors     []pipeline.ItemError       `json:"errors,omitempty"`
	Metrics    pipeline.Metrics           `json:"metrics"`
	Context    pipeline.GenerationContext `json:"context"`
}

// ItemRecord points at one item's payload file.
type ItemRecord struct {
	ID            string              `json:"id"`
	Provenance    pipeline.Provenance `json:"provenance"`
	Model         string              `json:"model,omitempty"`
	LatencyMillis int64               `json:"latency_ms"`
	File          string              `json:"file"`
	SHA256        string              `json:"sha256"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, fmt.Errorf("invalid run ID %q", runID)
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "items"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, err
		}
	}
	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteOutcome writes every item payload, the prompt blob and run.json.
func (w *Writer) WriteOutcome(req pipeline.Request, out *pipeline.Outcome, at time.Time) (RunRecord, error) {
	promptRef, promptHash, err := w.WriteBlob("prompt", []byte(req.Prompt))
	if err != nil {
		return RunRecord{}, err
	}

	record := RunRecord{
		ID:         out.RunID,
		Timestamp:  at.UTC(),
		PromptRef:  promptRef,
		PromptHash: promptHash,
		Industry:   out.Industry,
		Priority:   string(req.Priority),
		Success:    out.Success,
		Selection:  out.Selection,
		Errors:     out.Errors,
		Metrics:    out.Metrics,
		Context:    req.Context,
		Items:      make([]ItemRecord, 0, len(out.Items)),
	}
	for _, it := range out.Items {
		rec, err := w.writeItem(it)
		if err != nil {
			return RunRecord{}, err
		}
		record.Items = append(record.Items, rec)
	}

	if err := writeJSON(filepath.Join(w.runDir, "run.json"), record); err != nil {
		return RunRecord{}, err
	}
	return record, nil
}

func (w *Writer) writeItem(it pipeline.ItemResult) (ItemRecord, error) {
	name := sanitizeKind(it.ID, "item")
	rel := filepath.ToSlash(filepath.Join("items", name+".json"))
	if err := writeJSON(filepath.Join(w.runDir, rel), it.Payload); err != nil {
		return ItemRecord{}, fmt.Errorf("write item %s: %w", it.ID, err)
	}
	return ItemRecord{
		ID:            it.ID,
		Provenance:    it.Provenance,
		Model:         it.Model,
		LatencyMillis: it.Latency.Milliseconds(),
		File:          rel,
		SHA256:        hashHex(it.Payload),
	}, nil
}

// WriteBlob stores data under blobs/<kind>-<sha>.txt and returns the
// run-relative path and the full hash. Writing the same data twice returns
// the same ref.
func (w *Writer) WriteBlob(kind string, data []byte) (string, string, error) {
	sum := hashHex(data)
	rel := filepath.ToSlash(filepath.Join("blobs", fmt.Sprintf("%s-%s.txt", sanitizeKind(kind, "blob"), sum[:16])))
	if err := os.WriteFile(filepath.Join(w.runDir, rel), data, filePerm); err != nil {
		return "", "", err
	}
	return rel, sum, nil
}

// sanitizeKind keeps [a-z0-9_-] and lowercases; an empty result becomes def.
func sanitizeKind(kind, def string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return def
	}
	return sb.String()
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, filePerm)
}
