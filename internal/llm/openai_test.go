package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientGenerateParsesToolCalls(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Let me check.","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_orders","arguments":"{\"user_id\":1}"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"}, nil)
	resp, err := c.Generate(context.Background(), Request{
		System:   "be nice",
		Messages: []Message{{Role: RoleUser, Content: "where is my order"}},
		Tools:    []ToolDefinition{{Name: "get_orders", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got.Model != "test-model" {
		t.Fatalf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("expected system + user messages, got %+v", got.Messages)
	}
	if len(got.Tools) != 1 || got.Tools[0].Type != "function" {
		t.Fatalf("tools not encoded: %+v", got.Tools)
	}

	if resp.Text != "Let me check." {
		t.Fatalf("Text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_orders" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[0].Arguments) != `{"user_id":1}` {
		t.Fatalf("Arguments = %s", resp.ToolCalls[0].Arguments)
	}
}

func TestClientGenerateWrapsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Model: "m"}, nil)
	_, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestClientGenerateJSONMode(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Model: "m"}, nil).WithModel("mini")
	if _, err := c.Generate(context.Background(), Request{JSON: true, Messages: []Message{{Role: RoleUser, Content: "x"}}}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Model != "mini" {
		t.Fatalf("model = %q, want mini", got.Model)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format not set: %+v", got.ResponseFormat)
	}
}

func TestClientGenerateNormalizesMalformedArguments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"a","type":"function","function":{"name":"get_orders","arguments":"{\"user_id\": 4"}},
			{"id":"b","type":"function","function":{"name":"get_tickets","arguments":""}}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Model: "m"}, nil)
	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	for _, tc := range resp.ToolCalls {
		if !json.Valid(tc.Arguments) {
			t.Fatalf("arguments of %s are not valid JSON: %s", tc.Name, tc.Arguments)
		}
	}
	var raw string
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &raw); err != nil || raw != `{"user_id": 4` {
		t.Fatalf("malformed arguments = %s", resp.ToolCalls[0].Arguments)
	}
	if string(resp.ToolCalls[1].Arguments) != "{}" {
		t.Fatalf("empty arguments = %s", resp.ToolCalls[1].Arguments)
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```\n[1, 2]\n```":          `[1, 2]`,
		"  \n```json{\"a\":1}```  ": `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
