package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boristopalov/toolgym/pkg/core"
)

// recorder captures the last request body and replies with a canned response
type recorder struct {
	body     []byte
	path     string
	response string
}

func (r *recorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.body, _ = io.ReadAll(req.Body)
		r.path = req.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, r.response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var addSchema = core.ToolSchema{
	Type: "function",
	Function: core.FunctionSpec{
		Name:        "add",
		Description: "Add two numbers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	},
}

func conversation() []core.Message {
	return []core.Message{
		{Role: core.RoleSystem, Content: "You are a calculator."},
		{Role: core.RoleUser, Content: "What is 1+2?"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{
			ID: "call_1", Type: "function",
			Function: core.FunctionCall{Name: "add", Arguments: `{"a":1,"b":2}`},
		}}},
		{Role: core.RoleTool, Content: "3", ToolCallID: "call_1"},
	}
}

func TestRegistry(t *testing.T) {
	names := Names()
	for _, want := range []string{"anthropic", "gemini", "openai"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("provider %q not registered (have %v)", want, names)
		}
	}

	if _, err := New(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenAIClient(t *testing.T) {
	rec := &recorder{response: `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
			"role": "assistant", "content": null,
			"tool_calls": [
				{"id": "call_2", "type": "function", "function": {"name": "submit_solution", "arguments": "{\"answer\":3}"}}
			]
		}}]
	}`}
	srv := rec.server(t)

	client, err := New(context.Background(), "openai", WithBaseURL(srv.URL+"/v1/"), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}

	temp := 0.2
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:      core.GenerationParams{Model: "test-model", Temperature: &temp},
		Messages:    conversation(),
		Tools:       []core.ToolSchema{addSchema},
		RequireTool: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "submit_solution" || msg.ToolCalls[0].ID != "call_2" {
		t.Fatalf("unexpected tool calls: %+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].Function.Arguments != `{"answer":3}` {
		t.Errorf("Arguments = %q", msg.ToolCalls[0].Function.Arguments)
	}

	var sent struct {
		Model      string `json:"model"`
		ToolChoice string `json:"tool_choice"`
		Tools      []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.body, &sent); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, rec.body)
	}
	if sent.ToolChoice != "required" {
		t.Errorf("tool_choice = %q, want required", sent.ToolChoice)
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Function.Name != "add" {
		t.Errorf("unexpected tools: %+v", sent.Tools)
	}
	if len(sent.Messages) != 4 || sent.Messages[3].Role != "tool" || sent.Messages[3].ToolCallID != "call_1" {
		t.Errorf("unexpected messages: %+v", sent.Messages)
	}
	if !strings.HasSuffix(rec.path, "/chat/completions") {
		t.Errorf("path = %q", rec.path)
	}
}

func TestOpenAIClientWithoutTools(t *testing.T) {
	rec := &recorder{response: `{
		"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "test-model",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "It is 3."}}]
	}`}
	srv := rec.server(t)

	client := OpenAi(context.Background(), WithBaseURL(srv.URL+"/v1/"), WithAPIKey("test-key"))
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:   core.GenerationParams{Model: "test-model"},
		Messages: conversation()[:2],
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Content != "It is 3." || len(msg.ToolCalls) != 0 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if strings.Contains(string(rec.body), "tool_choice") {
		t.Errorf("tool_choice should be omitted without tools: %s", rec.body)
	}
}

func TestAnthropicClient(t *testing.T) {
	rec := &recorder{response: `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Submitting."},
			{"type": "tool_use", "id": "toolu_1", "name": "submit_solution", "input": {"answer": 3}}
		],
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`}
	srv := rec.server(t)

	client, err := New(context.Background(), "anthropic", WithBaseURL(srv.URL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:      core.GenerationParams{Model: "claude-test"},
		Messages:    conversation(),
		Tools:       []core.ToolSchema{addSchema},
		RequireTool: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Content != "Submitting." {
		t.Errorf("Content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "toolu_1" {
		t.Fatalf("unexpected tool calls: %+v", msg.ToolCalls)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(msg.ToolCalls[0].Function.Arguments), &args); err != nil || args["answer"] != 3.0 {
		t.Errorf("unexpected arguments %q (%v)", msg.ToolCalls[0].Function.Arguments, err)
	}

	var sent struct {
		MaxTokens  int64                   `json:"max_tokens"`
		System     []struct{ Text string } `json:"system"`
		ToolChoice struct {
			Type string `json:"type"`
		} `json:"tool_choice"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type      string `json:"type"`
				ToolUseID string `json:"tool_use_id"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.body, &sent); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, rec.body)
	}
	if sent.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max_tokens = %d", sent.MaxTokens)
	}
	if len(sent.System) != 1 || sent.System[0].Text != "You are a calculator." {
		t.Errorf("unexpected system: %+v", sent.System)
	}
	if sent.ToolChoice.Type != "any" {
		t.Errorf("tool_choice.type = %q, want any", sent.ToolChoice.Type)
	}
	// user, assistant(tool_use), user(tool_result)
	if len(sent.Messages) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(sent.Messages), sent.Messages)
	}
	last := sent.Messages[2]
	if last.Role != "user" || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "call_1" {
		t.Errorf("unexpected tool result turn: %+v", last)
	}
}

func TestAnthropicClientToolHistory(t *testing.T) {
	rec := &recorder{response: `{
		"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "1+2 is 3."}],
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`}
	srv := rec.server(t)

	client, err := New(context.Background(), "anthropic", WithBaseURL(srv.URL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	// an unconstrained turn after tool use, as the follow-up generation sends it
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:   core.GenerationParams{Model: "claude-test"},
		Messages: conversation(),
		Tools:    []core.ToolSchema{addSchema},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Content != "1+2 is 3." || len(msg.ToolCalls) != 0 {
		t.Errorf("unexpected message: %+v", msg)
	}

	body := string(rec.body)
	if !strings.Contains(body, `"tool_use"`) || !strings.Contains(body, `"tool_result"`) {
		t.Fatalf("history should carry tool blocks: %s", body)
	}
	var sent struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		ToolChoice struct {
			Type string `json:"type"`
		} `json:"tool_choice"`
	}
	if err := json.Unmarshal(rec.body, &sent); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, rec.body)
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Name != "add" {
		t.Errorf("tool blocks need tool definitions, got %+v", sent.Tools)
	}
	if sent.ToolChoice.Type != "none" {
		t.Errorf("tool_choice.type = %q, want none", sent.ToolChoice.Type)
	}
}

func TestOpenAIClientUnconstrainedTurn(t *testing.T) {
	rec := &recorder{response: `{
		"id": "chatcmpl-3", "object": "chat.completion", "created": 1, "model": "test-model",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "3"}}]
	}`}
	srv := rec.server(t)

	client := OpenAi(context.Background(), WithBaseURL(srv.URL+"/v1/"), WithAPIKey("test-key"))
	if _, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:   core.GenerationParams{Model: "test-model"},
		Messages: conversation(),
		Tools:    []core.ToolSchema{addSchema},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	body := string(rec.body)
	if strings.Contains(body, `"tools"`) || strings.Contains(body, "tool_choice") {
		t.Errorf("unconstrained turn should not advertise tools: %s", body)
	}
}

func TestToAnthropicMessagesMergesToolResults(t *testing.T) {
	msgs := []core.Message{
		{Role: core.RoleUser, Content: "go"},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
			{ID: "a", Function: core.FunctionCall{Name: "add", Arguments: `{"a":1,"b":1}`}},
			{ID: "b", Function: core.FunctionCall{Name: "add", Arguments: `{"a":2,"b":2}`}},
		}},
		{Role: core.RoleTool, Content: "2", ToolCallID: "a"},
		{Role: core.RoleTool, Content: "4", ToolCallID: "b"},
		{Role: core.RoleUser, Content: "continue"},
	}
	system, out := toAnthropicMessages(msgs)
	if system != "" {
		t.Errorf("system = %q, want empty", system)
	}
	if len(out) != 3 {
		t.Fatalf("got %d turns, want 3", len(out))
	}
	if len(out[2].Content) != 3 {
		t.Errorf("tool results and follow-up should share a user turn, got %d blocks", len(out[2].Content))
	}
}

func TestToGeminiContents(t *testing.T) {
	system, contents, err := toGeminiContents(conversation())
	if err != nil {
		t.Fatalf("toGeminiContents: %v", err)
	}
	if system == nil || system.Parts[0].Text != "You are a calculator." {
		t.Errorf("unexpected system instruction: %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	call := contents[1].Parts[0].FunctionCall
	if call == nil || call.Name != "add" || call.Args["a"] != 1.0 {
		t.Errorf("unexpected function call: %+v", call)
	}
	resp := contents[2].Parts[0].FunctionResponse
	if resp == nil || resp.Name != "add" || resp.ID != "call_1" || resp.Response["output"] != "3" {
		t.Errorf("unexpected function response: %+v", resp)
	}

	bad := []core.Message{{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "x", Function: core.FunctionCall{Name: "add", Arguments: "{"}}}}}
	if _, _, err := toGeminiContents(bad); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestGeminiClient(t *testing.T) {
	rec := &recorder{response: `{
		"candidates": [{"content": {"role": "model", "parts": [
			{"functionCall": {"name": "add", "args": {"a": 1, "b": 2}}}
		]}}]
	}`}
	srv := rec.server(t)

	client, err := New(context.Background(), "gemini", WithBaseURL(srv.URL+"/"), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:      core.GenerationParams{Model: "gemini-test"},
		Messages:    conversation()[:2],
		Tools:       []core.ToolSchema{addSchema},
		RequireTool: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "add" {
		t.Fatalf("unexpected tool calls: %+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].ID == "" {
		t.Error("missing call id should be synthesized")
	}
	if !strings.Contains(rec.path, "gemini-test:generateContent") {
		t.Errorf("path = %q", rec.path)
	}
	if !strings.Contains(string(rec.body), `"mode":"ANY"`) {
		t.Errorf("function calling mode not forced: %s", rec.body)
	}
}

func TestGeminiClientToolHistory(t *testing.T) {
	rec := &recorder{response: `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "3"}]}}]
	}`}
	srv := rec.server(t)

	client, err := New(context.Background(), "gemini", WithBaseURL(srv.URL+"/"), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	msg, err := client.Complete(context.Background(), core.CompletionRequest{
		Params:   core.GenerationParams{Model: "gemini-test"},
		Messages: conversation(),
		Tools:    []core.ToolSchema{addSchema},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Content != "3" || len(msg.ToolCalls) != 0 {
		t.Errorf("unexpected message: %+v", msg)
	}
	body := string(rec.body)
	if !strings.Contains(body, "functionResponse") || !strings.Contains(body, "functionDeclarations") {
		t.Errorf("tool history should travel with its declarations: %s", body)
	}
	if !strings.Contains(body, `"mode":"NONE"`) {
		t.Errorf("function calling should be disabled: %s", body)
	}
}
