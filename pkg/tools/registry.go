package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/boristopalov/toolgym/pkg/core"
)

// DefaultSubmissionTool is the reserved name whose call ends an episode.
const DefaultSubmissionTool = "submit_solution"

var (
	ErrReservedName  = errors.New("tool name is reserved for submission")
	ErrUnknownTool   = errors.New("unknown tool")
	ErrUnknownSchema = errors.New("no schema for tool")
)

// Func executes a tool with decoded keyword arguments.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Tool is a callable bound to a name. Schema is optional; a schema loaded
// from file under the same name takes precedence.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Fn          Func
}

// Registry holds the tools and schemas resolved for one episode. It is
// read-only after construction.
type Registry struct {
	submission string
	tools      map[string]Tool
	schemas    map[string]core.ToolSchema
}

// NewRegistry builds a registry. A tool registered under the submission name
// is a configuration error.
func NewRegistry(submission string, schemas []core.ToolSchema, tools ...Tool) (*Registry, error) {
	if submission == "" {
		submission = DefaultSubmissionTool
	}
	r := &Registry{
		submission: submission,
		tools:      make(map[string]Tool, len(tools)),
		schemas:    make(map[string]core.ToolSchema, len(schemas)+len(tools)),
	}

	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool without a name")
		}
		if t.Name == submission {
			return nil, fmt.Errorf("%w: %q", ErrReservedName, t.Name)
		}
		if t.Fn == nil {
			return nil, fmt.Errorf("tool %q has no function", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		r.tools[t.Name] = t
		if t.Schema != nil {
			r.schemas[t.Name] = core.ToolSchema{
				Type: "function",
				Function: core.FunctionSpec{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Schema,
				},
			}
		}
	}

	for _, s := range schemas {
		if s.Function.Name == "" {
			return nil, errors.New("tool schema without a function name")
		}
		if s.Type == "" {
			s.Type = "function"
		}
		r.schemas[s.Function.Name] = s
	}
	return r, nil
}

// Submission returns the reserved submission tool name.
func (r *Registry) Submission() string {
	return r.submission
}

// Has reports whether a callable tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schemas for names in the given order.
func (r *Registry) Schemas(names []string) ([]core.ToolSchema, error) {
	out := make([]core.ToolSchema, 0, len(names))
	for _, name := range names {
		s, ok := r.schemas[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
		}
		out = append(out, s)
	}
	return out, nil
}

// Call executes the named tool. A panicking tool is reported as an error.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (out any, err error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return t.Fn(ctx, args)
}
