package environment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/boristopalov/toolgym/pkg/tools"
)

var (
	ErrVerifierNotFound = errors.New("verifier not found")
	errNoSolution       = errors.New("no solution submitted")
)

// Verifier scores a submitted solution. record is the episode's input row.
type Verifier func(ctx context.Context, solution map[string]any, record map[string]any) (bool, error)

// Verifiers is the startup-populated table behind the "custom" verifier kind
type Verifiers struct {
	verifiers map[string]Verifier
	mu        sync.RWMutex
}

func NewVerifiers() *Verifiers {
	return &Verifiers{verifiers: make(map[string]Verifier)}
}

// DefaultVerifiers holds the verifiers shipped with the binary
func DefaultVerifiers(answerField string) *Verifiers {
	v := NewVerifiers()
	v.Register("numeric_answer", NumericAnswer(answerField))
	return v
}

func (v *Verifiers) Register(name string, fn Verifier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifiers[name] = fn
}

func (v *Verifiers) Lookup(name string) (Verifier, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn, ok := v.verifiers[name]
	return fn, ok
}

func (v *Verifiers) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.verifiers))
	for name := range v.verifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify runs the named verifier, turning a panic into an error
func (v *Verifiers) Verify(ctx context.Context, name string, solution, record map[string]any) (ok bool, err error) {
	fn, found := v.Lookup(name)
	if !found {
		return false, fmt.Errorf("%w: %q", ErrVerifierNotFound, name)
	}
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("verifier %s panicked: %v", name, p)
		}
	}()
	return fn(ctx, solution, record)
}

// NumericAnswer compares the submitted number with the "#### N" marker in
// the record's answer field. answerField is a gjson path, as in the dataset.
func NumericAnswer(answerField string) Verifier {
	return func(ctx context.Context, solution, record map[string]any) (bool, error) {
		raw, err := json.Marshal(record)
		if err != nil {
			return false, fmt.Errorf("encode record: %w", err)
		}
		field := gjson.GetBytes(raw, answerField)
		if field.Type != gjson.String {
			return false, fmt.Errorf("record has no text field %q", answerField)
		}
		expected := field.String()
		out, err := tools.NewVerifyTool(expected).Fn(ctx, solution)
		if err != nil {
			return false, err
		}
		return out.(bool), nil
	}
}
