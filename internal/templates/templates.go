package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

// Load parses the embedded page templates. Called once at router setup.
func Load() *template.Template {
	return template.Must(template.ParseFS(files, "*.html"))
}
