package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var answerPattern = regexp.MustCompile(`####\s*(-?\d+(?:\.\d+)?)`)

// ExtractAnswer returns the first number following a "####" marker.
func ExtractAnswer(text string) (float64, error) {
	m := answerPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no #### answer found in %q", text)
	}
	return strconv.ParseFloat(m[1], 64)
}

type VerifyInput struct {
	Submission *Number `json:"submission,omitempty" jsonschema_description:"The proposed numeric answer."`
	Answer     *Number `json:"answer,omitempty" jsonschema_description:"Alias of submission."`
}

// NewVerifyTool binds a verifier to one record's expected answer text. It
// accepts the proposed value under either "submission" or "answer", so it can
// also be handed a submitted solution mapping directly.
func NewVerifyTool(expected string) Tool {
	return Tool{
		Name:        "verify",
		Description: "Check a proposed numeric answer against the expected one.",
		Schema:      GenerateSchema[VerifyInput](),
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			in, err := DecodeArgs[VerifyInput](args)
			if err != nil {
				return nil, err
			}
			got := in.Submission
			if got == nil {
				got = in.Answer
			}
			if got == nil {
				return nil, fmt.Errorf("verify: missing submission")
			}
			want, err := ExtractAnswer(expected)
			if err != nil {
				return nil, err
			}
			return float64(*got) == want, nil
		},
	}
}
