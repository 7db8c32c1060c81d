// Package schema validates generated item payloads against per-kind JSON
// schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// ErrUnknownKind is returned when no schema is registered for a kind.
var ErrUnknownKind = errors.New("unknown item kind")

// Validator checks a payload for an item kind.
type Validator interface {
	Validate(kind string, payload []byte) error
	Known(kind string) bool
}

// ValidationError lists why a payload was rejected.
type ValidationError struct {
	Kind   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s payload failed schema validation: %s", e.Kind, strings.Join(e.Issues, "; "))
}

// Catalog is a concurrency-safe set of compiled schemas keyed by kind.
type Catalog struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
	raw      map[string]string
}

// NewCatalog returns a catalog preloaded with the built-in item schemas.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
		raw:      make(map[string]string),
	}
	for _, kind := range sortedKinds(builtin) {
		if err := c.Register(kind, []byte(builtin[kind])); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register compiles raw and stores it for kind, replacing any previous schema.
func (c *Catalog) Register(kind string, raw []byte) error {
	kind = normalizeKind(kind)
	if kind == "" {
		return errors.New("schema kind is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	compiled, err := c.compiler.Compile(raw)
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", kind, err)
	}
	c.schemas[kind] = compiled
	c.raw[kind] = compactJSON(raw)
	return nil
}

// Describe returns the schema source for kind, for use in prompts.
func (c *Catalog) Describe(kind string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.raw[normalizeKind(kind)]
	return s, ok
}

// Known reports whether kind has a schema.
func (c *Catalog) Known(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.schemas[normalizeKind(kind)]
	return ok
}

// Kinds lists registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.schemas))
	for k := range c.schemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate decodes payload and checks it against the schema for kind.
func (c *Catalog) Validate(kind string, payload []byte) error {
	c.mu.RLock()
	compiled, ok := c.schemas[normalizeKind(kind)]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return &ValidationError{Kind: kind, Issues: []string{"invalid JSON: " + err.Error()}}
	}
	result := compiled.Validate(value)
	if result.Valid {
		return nil
	}

	issues := make([]string, 0, len(result.Errors))
	for field, evalErr := range result.Errors {
		issues = append(issues, fmt.Sprintf("%s: %v", field, evalErr))
	}
	sort.Strings(issues)
	if len(issues) == 0 {
		issues = append(issues, "does not match schema")
	}
	return &ValidationError{Kind: kind, Issues: issues}
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func sortedKinds(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
