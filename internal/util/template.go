package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// FuncMap holds the helpers available to prompt templates.
var FuncMap = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// Parse compiles a named prompt template with FuncMap.
func Parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(FuncMap).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}

// RenderTemplate replaces template variables using Go's text/template package.
// Output is not HTML-escaped since prompts embed raw JSON.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := Parse("prompt", text)
	if err != nil {
		return "", err
	}
	return Execute(tmpl, data)
}

// Execute runs a compiled template against data.
func Execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
