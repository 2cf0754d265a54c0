package compiler

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/bleepsynth/bleep"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Documenter renders human readable documentation for synth definitions.
type Documenter struct {
	Template *template.Template
}

// NewDocumenter returns a documenter using the built-in Markdown template.
func NewDocumenter() (*Documenter, error) {
	tmpl, err := template.New("base").Funcs(funcMap()).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("could not parse the built-in templates: %w", err)
	}
	return &Documenter{Template: tmpl}, nil
}

// NewDocumenterFromTemplates parses every template in a directory instead of
// the built-in ones. The directory must define a "synthdef.md" template.
func NewDocumenterFromTemplates(templateDirectory string) (*Documenter, error) {
	globPtrn := filepath.Join(templateDirectory, "*.*")
	tmpl, err := template.New("base").Funcs(funcMap()).ParseGlob(globPtrn)
	if err != nil {
		return nil, fmt.Errorf(`could not create template based on directory "%v": %w`, templateDirectory, err)
	}
	return &Documenter{Template: tmpl}, nil
}

func funcMap() template.FuncMap {
	caser := cases.Title(language.English)
	m := sprig.TxtFuncMap()
	m["title"] = caser.String
	return m
}

// Render writes the documentation page of def. The warnings, if any, are
// listed at the end of the page.
func (d *Documenter) Render(def *bleep.SynthDef, warnings []string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Def      *bleep.SynthDef
		Warnings []string
	}{def, warnings}
	if err := d.Template.ExecuteTemplate(&buf, "synthdef.md", data); err != nil {
		return "", fmt.Errorf(`could not execute template "synthdef.md": %w`, err)
	}
	return buf.String(), nil
}

// Doc renders the documentation of a compiled definition with the built-in
// template, including the warnings the Generator reports for it.
func Doc(def *bleep.SynthDef) (string, error) {
	d, err := NewDocumenter()
	if err != nil {
		return "", err
	}
	return d.Render(def, bleep.FromSynthDef(def).Warnings())
}
