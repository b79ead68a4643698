// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail renders and delivers account mail.
package mail

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/samber/oops"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer renders the embedded mail templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_INVALID").Wrap(err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type resetData struct {
	Name string
	URL  string
}

// RenderReset renders the password-reset mail for name with a link to resetURL.
func (r *Renderer) RenderReset(name, resetURL string) (string, error) {
	var buf bytes.Buffer
	data := resetData{Name: name, URL: resetURL}
	if err := r.tmpl.ExecuteTemplate(&buf, "reset_password.html", data); err != nil {
		return "", oops.Code("MAIL_RENDER_FAILED").With("template", "reset_password.html").Wrap(err)
	}
	return buf.String(), nil
}
