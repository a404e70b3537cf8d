package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/llminster/llminster/pkg/security"
)

// Renderer turns template text into a prompt. path locates the template
// on disk so it can resolve relative includes.
type Renderer interface {
	Render(path, text string) (string, error)
}

// TemplateRenderer renders .razorq content with text/template.
//
// Available helpers:
//
//	{{ now "2006-01-02" }}   current time in the given layout
//	{{ upper .x }} {{ lower .x }} {{ trim .x }}
//	{{ include "notes.md" }} content of a file next to the template
type TemplateRenderer struct {
	now func() time.Time
}

// NewTemplateRenderer creates a renderer using the wall clock.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{now: time.Now}
}

// Render executes text as a template named after path.
func (r *TemplateRenderer) Render(path, text string) (string, error) {
	dir := filepath.Dir(path)

	funcs := template.FuncMap{
		"now": func(layout string) string {
			return r.now().Format(layout)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"include": func(name string) (string, error) {
			target, err := security.ResolveInside(dir, name)
			if err != nil {
				return "", fmt.Errorf("include: %w", err)
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("include %q: %w", name, err)
			}
			return string(data), nil
		},
	}

	tmpl, err := template.New(filepath.Base(path)).
		Option("missingkey=error").
		Funcs(funcs).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, nil); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}
