package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pilotauth/pilot/internal/license"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// requireStrings extracts several required string arguments in order.
func requireStrings(request mcp.CallToolRequest, keys ...string) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		v, err := requireString(request, k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// requireInt extracts a required integer argument. JSON numbers arrive as
// float64 and must be whole.
func requireInt(request mcp.CallToolRequest, key string) (int, error) {
	raw, ok := request.GetArguments()[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter %q", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %q must be a whole number", key)
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalStringPtr returns nil when the argument is absent, so that an edit
// leaves the field unchanged.
func optionalStringPtr(request mcp.CallToolRequest, key string) *string {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	v := request.GetString(key, "")
	return &v
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError reports a license service failure as a tool error, keeping
// the underlying cause out of the result.
func serviceError(err error) (*mcp.CallToolResult, error) {
	return toolError("%s (%s)", license.DetailOf(err), license.KindOf(err))
}
