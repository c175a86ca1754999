package main

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// PromptBuilder renders the classification prompts for a record
type PromptBuilder struct {
	system  string
	user    *template.Template
	content *ContentNormalizer
}

type systemPromptData struct {
	Neighborhoods []NeighborhoodEntry
	ScopeLabels   []string
	IgnorePhrases []string
}

type userPromptData struct {
	Title   string
	Content string
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// NewPromptBuilder renders the system prompt once against the catalog and
// prepares the per-record user prompt
func NewPromptBuilder(systemTemplate, userTemplate string, catalog *Catalog, ignorePhrases []string, content *ContentNormalizer) (*PromptBuilder, error) {
	if !strings.Contains(userTemplate, "{{.Title}}") || !strings.Contains(userTemplate, "{{.Content}}") {
		return nil, fmt.Errorf("user prompt template must contain {{.Title}} and {{.Content}} variables")
	}

	sysTmpl, err := template.New("system").Funcs(promptFuncs).Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing system prompt: %w", err)
	}
	var sys bytes.Buffer
	err = sysTmpl.Execute(&sys, systemPromptData{
		Neighborhoods: catalog.Entries(),
		ScopeLabels:   ScopeLabels,
		IgnorePhrases: ignorePhrases,
	})
	if err != nil {
		return nil, fmt.Errorf("executing system prompt: %w", err)
	}

	userTmpl, err := template.New("user").Funcs(promptFuncs).Parse(userTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing user prompt: %w", err)
	}

	return &PromptBuilder{
		system:  strings.TrimSpace(sys.String()),
		user:    userTmpl,
		content: content,
	}, nil
}

// System returns the rendered system prompt
func (p *PromptBuilder) System() string {
	return p.system
}

// User renders the user prompt for one record
func (p *PromptBuilder) User(record Record) (string, error) {
	var buf bytes.Buffer
	err := p.user.Execute(&buf, userPromptData{
		Title:   strings.TrimSpace(record.Title),
		Content: p.content.Normalize(record),
	})
	if err != nil {
		return "", fmt.Errorf("executing user prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
