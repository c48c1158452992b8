package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/openapi"
)

// toolPrefix namespaces every tool name.
const toolPrefix = "pilot_"

type toolSpec struct {
	annotation mcp.ToolAnnotation
	handler    server.ToolHandlerFunc
	// hint is appended to the route summary.
	hint string
}

// tools maps each route's operation ID to its tool. Routes without an entry
// are not exposed.
func (s *MCPServer) tools() map[string]toolSpec {
	return map[string]toolSpec{
		"generate_app": {
			annotation: mutatingAnnotation(false),
			handler:    s.handleGenerateApp,
			hint:       "Returns the new application key. Use it with pilot_generate_license_key.",
		},
		"list_apps_for_user": {
			annotation: readOnlyAnnotation(),
			handler:    s.handleListApps,
		},
		"list_keys_for_username": {
			annotation: readOnlyAnnotation(),
			handler:    s.handleListKeys,
			hint:       "Returns a page object with items, page, page_size and total.",
		},
		"pause_app_key": {
			annotation: mutatingAnnotation(false),
			handler:    s.handlePause,
		},
		"unpause_app_key": {
			annotation: mutatingAnnotation(false),
			handler:    s.handleUnpause,
		},
		"delete_app_key": {
			annotation: mutatingAnnotation(true),
			handler:    s.handleDelete,
			hint:       "This cannot be undone.",
		},
		"get_app": {
			annotation: readOnlyAnnotation(),
			handler:    s.handleGetApp,
		},
		"generate_license_key": {
			annotation: mutatingAnnotation(false),
			handler:    s.handleGenerateLicense,
		},
		"edit_license_key": {
			annotation: mutatingAnnotation(false),
			handler:    s.handleEditLicense,
			hint:       "Returns the license as stored after the edit.",
		},
		"get_license": {
			annotation: readOnlyAnnotation(),
			handler:    s.handleGetLicense,
			hint:       "The state is one of valid, expired or app_paused.",
		},
		"assign_hwid": {
			annotation: mutatingAnnotation(false),
			handler:    s.handleAssignHWID,
		},
		"signin": {
			annotation: readOnlyAnnotation(),
			handler:    s.handleSignIn,
			hint:       "Checks a license the way a client would, without changing it.",
		},
	}
}

// registerTools registers one tool per license route. Tool parameters mirror
// the route's query parameters, minus the customer key, which the server
// supplies.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	specs := s.tools()
	for _, rt := range openapi.Routes {
		spec, ok := specs[rt.OperationID]
		if !ok {
			continue
		}
		srv.AddTool(newTool(rt, spec), spec.handler)
	}
}

// newTool builds the tool definition for a route.
func newTool(rt openapi.Route, spec toolSpec) mcp.Tool {
	desc := rt.Summary + "."
	if spec.hint != "" {
		desc += " " + spec.hint
	}
	opts := []mcp.ToolOption{
		mcp.WithDescription(desc),
		mcp.WithToolAnnotation(spec.annotation),
	}
	for _, p := range rt.Params {
		if p.Name == "format" {
			continue
		}
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case "integer":
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		default:
			if p.Pattern != "" {
				props = append(props, mcp.Pattern(p.Pattern))
			}
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(toolPrefix+rt.OperationID, opts...)
}

// --------------------------------------------------------------------------
// Applications
// --------------------------------------------------------------------------

func (s *MCPServer) handleGenerateApp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	app, err := s.svc.CreateApplication(ctx, s.customerKey, username)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(app)
}

func (s *MCPServer) handleListApps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	keys, err := s.svc.ListApplicationsForUser(ctx, s.customerKey, username)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"app_keys": keys,
		"count":    len(keys),
	})
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	page, err := s.svc.ListKeysForUsername(ctx, s.customerKey, username, optionalInt(request, "page", 1))
	if err != nil {
		return serviceError(err)
	}
	return successJSON(page)
}

func (s *MCPServer) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.appAction(ctx, request, s.svc.PauseApplication, "paused")
}

func (s *MCPServer) handleUnpause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.appAction(ctx, request, s.svc.UnpauseApplication, "unpaused")
}

func (s *MCPServer) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.appAction(ctx, request, s.svc.DeleteApplication, "deleted")
}

func (s *MCPServer) appAction(
	ctx context.Context,
	request mcp.CallToolRequest,
	action func(ctx context.Context, customerKey, appKey string) error,
	verb string,
) (*mcp.CallToolResult, error) {
	appKey, err := requireString(request, "application_key")
	if err != nil {
		return toolError("%v", err)
	}
	if err := action(ctx, s.customerKey, appKey); err != nil {
		return serviceError(err)
	}
	return successJSON(model.MessageResponse{Detail: fmt.Sprintf("Application key has been %s", verb)})
}

func (s *MCPServer) handleGetApp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appKey, err := requireString(request, "app_key")
	if err != nil {
		return toolError("%v", err)
	}
	detail, err := s.svc.GetApplication(ctx, s.customerKey, appKey)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(detail)
}

// --------------------------------------------------------------------------
// Licenses
// --------------------------------------------------------------------------

func (s *MCPServer) handleGenerateLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vals, err := requireStrings(request, "app_key", "plan", "username")
	if err != nil {
		return toolError("%v", err)
	}
	days, err := requireInt(request, "expiry_days")
	if err != nil {
		return toolError("%v", err)
	}
	lic, err := s.svc.GenerateLicense(ctx, license.GenerateLicenseInput{
		CustomerKey: s.customerKey,
		AppKey:      vals[0],
		Plan:        vals[1],
		ExpiryDays:  days,
		Username:    vals[2],
		HWID:        optionalString(request, "hwid"),
	})
	if err != nil {
		return serviceError(err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleEditLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vals, err := requireStrings(request, "app_key", "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	lic, err := s.svc.EditLicense(ctx, license.EditLicenseInput{
		CustomerKey:   s.customerKey,
		AppKey:        vals[0],
		LicenseKey:    vals[1],
		NewLicenseKey: optionalStringPtr(request, "new_license_key"),
		Expiry:        optionalStringPtr(request, "expiry"),
		Plan:          optionalStringPtr(request, "plan"),
		HWID:          optionalStringPtr(request, "hwid"),
	})
	if err != nil {
		return serviceError(err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleGetLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vals, err := requireStrings(request, "app_key", "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	detail, err := s.svc.GetLicense(ctx, s.customerKey, vals[0], vals[1])
	if err != nil {
		return serviceError(err)
	}
	return successJSON(detail)
}

func (s *MCPServer) handleAssignHWID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vals, err := requireStrings(request, "app_key", "license_key", "hwid")
	if err != nil {
		return toolError("%v", err)
	}
	lic, err := s.svc.AssignHWID(ctx, vals[0], vals[1], vals[2])
	if err != nil {
		return serviceError(err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleSignIn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vals, err := requireStrings(request, "application_key", "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	view, err := s.svc.SignIn(ctx, vals[0], vals[1], optionalString(request, "hwid"))
	if err != nil {
		return serviceError(err)
	}
	return successJSON(view)
}
