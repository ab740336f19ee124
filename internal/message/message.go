// Package message renders outbound text: placeholder interpolation for
// campaigns and menu formatting for automation nodes.
package message

import (
	"fmt"
	"regexp"
	"strings"

	"zapflow/internal/models"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Interpolate replaces {nome}/{name}, {telefone}/{phone} and the contact's
// custom variables. Unknown placeholders are left untouched.
func Interpolate(tmpl string, c models.Contact) string {
	if tmpl == "" {
		return ""
	}
	name := c.Name
	if name == "" {
		name = "cliente"
	}
	vars := map[string]string{
		"nome":     name,
		"name":     name,
		"telefone": c.Phone,
		"phone":    c.Phone,
	}
	for k, v := range c.Variables {
		if v == nil {
			continue
		}
		vars[k] = fmt.Sprint(v)
	}

	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// Menu appends one "*key*  label" line per option after the content.
func Menu(content string, options []models.MenuOption) string {
	if len(options) == 0 {
		return content
	}
	lines := make([]string, len(options))
	for i, o := range options {
		lines[i] = fmt.Sprintf("*%s*  %s", o.Key, o.Label)
	}
	return content + "\n\n" + strings.Join(lines, "\n")
}
