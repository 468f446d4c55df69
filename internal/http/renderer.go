package httpx

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

//go:embed templates/layout.html templates/pages/*.html
var embeddedTemplates embed.FS

// PageData is the view model shared by every page.
type PageData struct {
	Title       string
	Heading     string
	User        *domainauth.UserProfile
	Hint        *domainauth.UserProfile
	Error       string
	RedirectURI string
	Landing     string
}

// TemplateRenderer renders HTML pages. Each page is parsed into its own clone
// of the layout so pages can all define "content".
type TemplateRenderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	// TemplateFS must contain templates/layout.html and templates/pages/*.html.
	// Defaults to the embedded templates.
	TemplateFS fs.FS
	Logger     *slog.Logger
}

// NewTemplateRenderer constructs a renderer by parsing templates from the provided config.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	fsys := cfg.TemplateFS
	if fsys == nil {
		fsys = embeddedTemplates
	}
	layout, err := template.New("root").ParseFS(fsys, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no page templates found")
	}

	pages := make(map[string]*template.Template, len(files))
	for _, f := range files {
		clone, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		t, err := clone.ParseFS(fsys, f)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Error("template parsing failed",
					slog.String("template", f),
					slog.Any("error", err),
				)
			}
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		pages[strings.TrimSuffix(path.Base(f), ".html")] = t
	}
	return &TemplateRenderer{pages: pages, logger: cfg.Logger}, nil
}

// Render executes page into a buffer and writes it with status.
func (r *TemplateRenderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	t, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logTemplateError(page, err)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to write rendered template",
				slog.String("template", page),
				slog.Any("error", err),
			)
		}
		return err
	}
	return nil
}

func (r *TemplateRenderer) logTemplateError(page string, err error) {
	if r.logger == nil || err == nil {
		return
	}
	r.logger.Error("template execution failed",
		slog.String("template", page),
		slog.Any("error", err),
	)
}
