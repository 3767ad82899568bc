// Package templates renders prompt files addressed by their path relative to
// a template directory.
package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"text/template"
)

// Renderer parses templates lazily and caches them by id
type Renderer struct {
	fsys  fs.FS
	cache map[string]*template.Template
	mu    sync.Mutex
}

func New(dir string) *Renderer {
	return NewFS(os.DirFS(dir))
}

func NewFS(fsys fs.FS) *Renderer {
	return &Renderer{
		fsys:  fsys,
		cache: make(map[string]*template.Template),
	}
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"trim": strings.TrimSpace,
}

func (r *Renderer) load(id string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[id]; ok {
		return t, nil
	}
	src, err := fs.ReadFile(r.fsys, id)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}
	t, err := template.New(id).Funcs(funcs).Option("missingkey=zero").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", id, err)
	}
	r.cache[id] = t
	return t, nil
}

// Render executes template id against data
func (r *Renderer) Render(id string, data any) (string, error) {
	t, err := r.load(id)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", id, err)
	}
	return buf.String(), nil
}

// Check parses every id without executing it
func (r *Renderer) Check(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := r.load(id); err != nil {
			return err
		}
	}
	return nil
}
