// Package ui holds the embedded page templates.
package ui

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"notekeep/models"
)

//go:embed html/*.html
var files embed.FS

var pages = []string{
	"home", "about", "contact",
	"register", "login", "forgot", "reset",
	"addnote", "viewnotes", "singlenote", "updatenote", "search",
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Local().Format("02 Jan 2006 15:04") },
}

type Templates struct {
	pages map[string]*template.Template
}

// New parses every page together with the shared layout.
func New() (*Templates, error) {
	t := &Templates{pages: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(files, "html/base.html", "html/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		t.pages[name] = tmpl
	}
	return t, nil
}

func (t *Templates) Render(w io.Writer, view string, data models.PageData) error {
	tmpl, ok := t.pages[view]
	if !ok {
		return fmt.Errorf("unknown view %q", view)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}
