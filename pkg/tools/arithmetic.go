package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Number decodes from a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", s)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

type BinaryInput struct {
	A Number `json:"a" jsonschema_description:"Left operand."`
	B Number `json:"b" jsonschema_description:"Right operand."`
}

var ErrDivideByZero = errors.New("division by zero")

// DecodeArgs converts decoded tool arguments into a typed input struct.
// Unknown keys are rejected so a misnamed argument surfaces as a tool error.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var in T
	raw, err := json.Marshal(args)
	if err != nil {
		return in, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, fmt.Errorf("invalid arguments: %w", err)
	}
	return in, nil
}

func binaryTool(name, description string, op func(a, b float64) (float64, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Schema:      GenerateSchema[BinaryInput](),
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			in, err := DecodeArgs[BinaryInput](args)
			if err != nil {
				return nil, err
			}
			return op(float64(in.A), float64(in.B))
		},
	}
}

func Add() Tool {
	return binaryTool("add", "Add two numbers.", func(a, b float64) (float64, error) {
		return a + b, nil
	})
}

func Subtract() Tool {
	return binaryTool("subtract", "Subtract b from a.", func(a, b float64) (float64, error) {
		return a - b, nil
	})
}

func Multiply() Tool {
	return binaryTool("multiply", "Multiply two numbers.", func(a, b float64) (float64, error) {
		return a * b, nil
	})
}

func Divide() Tool {
	return binaryTool("divide", "Divide a by b.", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	})
}

// Arithmetic returns the static tools shared by every episode.
func Arithmetic() []Tool {
	return []Tool{Add(), Subtract(), Multiply(), Divide()}
}
