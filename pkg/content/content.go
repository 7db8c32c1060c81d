// Package content renders deterministic fallback payloads for items whose
// live generation failed.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Data is the request context substituted into fallback templates.
type Data struct {
	Kind         string `json:"kind"`
	BusinessName string `json:"business_name,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Description  string `json:"description,omitempty"`
	Location     string `json:"location,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Year         int    `json:"year,omitempty"`
}

// Generator renders one template per item kind. Kinds without a template
// use a generic title/body payload.
type Generator struct {
	templates map[string]*template.Template
	generic   *template.Template
}

// NewGenerator parses the built-in templates.
func NewGenerator() (*Generator, error) {
	g := &Generator{templates: make(map[string]*template.Template, len(builtin))}
	for kind, src := range builtin {
		tpl, err := parse(kind, src)
		if err != nil {
			return nil, err
		}
		g.templates[kind] = tpl
	}
	tpl, err := parse("generic", genericTemplate)
	if err != nil {
		return nil, err
	}
	g.generic = tpl
	return g, nil
}

// AddTemplate registers or replaces the template for kind.
func (g *Generator) AddTemplate(kind, src string) error {
	tpl, err := parse(kind, src)
	if err != nil {
		return err
	}
	g.templates[strings.ToLower(kind)] = tpl
	return nil
}

// Render produces the fallback payload for d.Kind. The output is always a
// JSON object.
func (g *Generator) Render(d Data) (json.RawMessage, error) {
	tpl, ok := g.templates[strings.ToLower(d.Kind)]
	if !ok {
		tpl = g.generic
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render %s fallback: %w", d.Kind, err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("render %s fallback: invalid JSON: %w", d.Kind, err)
	}
	return json.RawMessage(compact.Bytes()), nil
}

func parse(name, src string) (*template.Template, error) {
	tpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(prelude + src)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tpl, nil
}
