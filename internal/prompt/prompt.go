// Package prompt renders typed generation prompts from an embedded catalog.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"cardgen/internal/domain"
)

//go:embed templates.yaml
var defaultTemplates []byte

// ErrNoTemplate is returned when no template matches a kind and unit.
var ErrNoTemplate = errors.New("prompt: no template")

// Vars are the placeholders available to every template.
type Vars struct {
	ProductName      string
	Category         string
	Benefits         []string
	Description      string
	EditInstructions string
	UnitType         string
}

// Rendered is a ready-to-send prompt pair.
type Rendered struct {
	System string
	Prompt string
}

type file struct {
	System    map[string]string            `yaml:"system"`
	Kinds     map[string]string            `yaml:"kinds"`
	Units     map[string]string            `yaml:"units"`
	Providers map[string]map[string]string `yaml:"providers"`
}

// Catalog holds parsed templates.
type Catalog struct {
	system    map[string]string
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultTemplates)
}

// Parse loads a YAML catalog and verifies every template renders with a
// fully populated Vars value.
func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("prompt: decode catalog: %w", err)
	}
	c := &Catalog{
		system:    f.System,
		templates: map[string]*template.Template{},
	}
	add := func(key, body string) error {
		tmpl, err := template.New(key).Funcs(funcs).Option("missingkey=error").Parse(body)
		if err != nil {
			return fmt.Errorf("prompt: parse %s: %w", key, err)
		}
		if err := tmpl.Execute(&bytes.Buffer{}, sampleVars); err != nil {
			return fmt.Errorf("prompt: verify %s: %w", key, err)
		}
		c.templates[key] = tmpl
		return nil
	}
	for kind, body := range f.Kinds {
		if err := add("kind/"+kind, body); err != nil {
			return nil, err
		}
	}
	for unit, body := range f.Units {
		if err := add("unit/"+unit, body); err != nil {
			return nil, err
		}
	}
	for provider, units := range f.Providers {
		for unit, body := range units {
			if err := add(strings.ToLower(provider)+"/"+unit, body); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

var sampleVars = Vars{
	ProductName:      "sample",
	Category:         "sample",
	Benefits:         []string{"a", "b"},
	Description:      "sample",
	EditInstructions: "sample",
	UnitType:         "cover",
}

// Render picks the template for a kind and unit. Provider overrides win over
// unit templates, which win over the kind template.
func (c *Catalog) Render(kind domain.JobKind, unitType, provider string, vars Vars) (Rendered, error) {
	// Casers are stateful; one per call.
	vars.ProductName = cases.Title(language.Und, cases.NoLower).String(strings.TrimSpace(vars.ProductName))
	vars.UnitType = unitType

	var keys []string
	if provider != "" && unitType != "" {
		keys = append(keys, strings.ToLower(provider)+"/"+unitType)
	}
	if kind == domain.JobKindPhotoSet || kind == domain.JobKindRegenerate {
		keys = append(keys, "unit/"+unitType, "unit/cover")
	} else {
		keys = append(keys, "kind/"+string(kind))
	}

	for _, key := range keys {
		tmpl, ok := c.templates[key]
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return Rendered{}, fmt.Errorf("prompt: render %s: %w", key, err)
		}
		return Rendered{System: c.systemFor(kind), Prompt: strings.TrimSpace(buf.String())}, nil
	}
	return Rendered{}, fmt.Errorf("%w: kind=%s unit=%s", ErrNoTemplate, kind, unitType)
}

func (c *Catalog) systemFor(kind domain.JobKind) string {
	if kind == domain.JobKindDescription {
		return c.system["text"]
	}
	return c.system["image"]
}

// VarsFromPayload maps a job payload onto template variables.
func VarsFromPayload(p domain.Payload) Vars {
	return Vars{
		ProductName:      p.ProductName,
		Category:         p.Category,
		Benefits:         p.Benefits,
		Description:      p.Description,
		EditInstructions: p.EditInstructions,
	}
}
