package site

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages holds one template set per page, each combining the shared layout
// with the page's content block.
var pages = map[string]*template.Template{}

func init() {
	for _, name := range []string{"index.html", "post.html", "404.html"} {
		pages[name] = template.Must(
			template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
}

func render(w io.Writer, page string, data *pageData) error {
	t, ok := pages[page]
	if !ok {
		return fmt.Errorf("unknown page template %q", page)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
