package testutil

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewCallToolRequest builds the request an MCP client would send for name.
func NewCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// ExtractText returns the first text block of result, failing the test when
// there is none.
func ExtractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("tool result is empty")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool result content is %T, want mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

// DecodeJSON unmarshals the text of a JSON tool result into a T.
func DecodeJSON[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	AssertNotError(t, result)
	var v T
	if err := json.Unmarshal([]byte(ExtractText(t, result)), &v); err != nil {
		t.Fatalf("tool result is not a %T: %v", v, err)
	}
	return v
}

func AssertTextContains(t *testing.T, result *mcp.CallToolResult, substr string) {
	t.Helper()
	if text := ExtractText(t, result); !strings.Contains(text, substr) {
		t.Errorf("tool result %q does not contain %q", text, substr)
	}
}

func AssertTextNotContains(t *testing.T, result *mcp.CallToolResult, substr string) {
	t.Helper()
	if text := ExtractText(t, result); strings.Contains(text, substr) {
		t.Errorf("tool result %q contains %q", text, substr)
	}
}

// AssertNotError stops the test when result is an error result.
func AssertNotError(t *testing.T, result *mcp.CallToolResult) {
	t.Helper()
	if result == nil {
		t.Fatal("tool result is nil")
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", ExtractText(t, result))
	}
}

// AssertIsError stops the test unless result is an error result containing
// substr.
func AssertIsError(t *testing.T, result *mcp.CallToolResult, substr string) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Fatalf("expected a tool error containing %q", substr)
	}
	AssertTextContains(t, result, substr)
}
