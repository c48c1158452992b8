package openapi

// Param is one query parameter of a route.
type Param struct {
	Name        string
	Type        string // string, integer or boolean
	Description string
	Required    bool
	Pattern     string
	Default     any
}

// Route describes one HTTP operation. The table below is the single source
// for the OpenAPI document, the MCP tool definitions and the server's route
// tests.
type Route struct {
	Path        string
	OperationID string
	Summary     string
	Tag         string
	// Gated routes require a customer key.
	Gated    bool
	Params   []Param
	Response string // component schema name
	// Errors lists the error statuses the route can produce besides 500.
	Errors []int
}

const (
	tagApplications = "applications"
	tagLicenses     = "licenses"
	tagClient       = "client"
)

const (
	patternAlnum = `^[a-zA-Z0-9]+$`
	patternHWID  = `^S-\d+-\d+(-\d+)+$`
)

var gatedErrors = []int{400, 403, 404, 409, 422, 429, 503, 504}

// Routes lists every license API operation in registration order.
var Routes = []Route{
	{
		Path:        "/auth/generate_app",
		OperationID: "generate_app",
		Summary:     "Create an application owned by username",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "username", Type: "string", Description: "Owner of the application", Required: true, Pattern: patternAlnum},
		},
		Response: "Application",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/list_apps_for_user",
		OperationID: "list_apps_for_user",
		Summary:     "List the application keys owned by username",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "username", Type: "string", Description: "Owner to list", Required: true, Pattern: patternAlnum},
		},
		Response: "AppKeyList",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/list_keys_for_username",
		OperationID: "list_keys_for_username",
		Summary:     "List record keys ending in -username, 100 per page",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "username", Type: "string", Description: "Username suffix to match", Required: true, Pattern: patternAlnum},
			{Name: "page", Type: "integer", Description: "Page number, starting at 1", Default: 1},
			{Name: "format", Type: "string", Description: "\"json\" returns a page object instead of <br>-joined text"},
		},
		Response: "KeyListing",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/pause_app_key",
		OperationID: "pause_app_key",
		Summary:     "Stop new licenses from being issued under an application",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "application_key", Type: "string", Description: "Application to pause", Required: true},
		},
		Response: "Message",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/unpause_app_key",
		OperationID: "unpause_app_key",
		Summary:     "Resume license issuance under an application",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "application_key", Type: "string", Description: "Application to unpause", Required: true},
		},
		Response: "Message",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/delete_app_key",
		OperationID: "delete_app_key",
		Summary:     "Delete an application and every license under it",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "application_key", Type: "string", Description: "Application to delete", Required: true},
		},
		Response: "Message",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/get_app",
		OperationID: "get_app",
		Summary:     "Read an application and its licenses",
		Tag:         tagApplications,
		Gated:       true,
		Params: []Param{
			{Name: "app_key", Type: "string", Description: "Application to read", Required: true},
		},
		Response: "ApplicationDetail",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/generate_license_key",
		OperationID: "generate_license_key",
		Summary:     "Issue a license under an application",
		Tag:         tagLicenses,
		Gated:       true,
		Params: []Param{
			{Name: "app_key", Type: "string", Description: "Application to issue under", Required: true},
			{Name: "plan", Type: "string", Description: "Plan name", Required: true, Pattern: patternAlnum},
			{Name: "expiry_days", Type: "integer", Description: "Days from today until expiry", Required: true},
			{Name: "username", Type: "string", Description: "End user the license is for", Required: true, Pattern: patternAlnum},
			{Name: "hwid", Type: "string", Description: "Hardware ID to bind immediately", Pattern: patternHWID},
		},
		Response: "License",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/edit_license_key",
		OperationID: "edit_license_key",
		Summary:     "Change fields of a license; omitted fields are kept",
		Tag:         tagLicenses,
		Gated:       true,
		Params: []Param{
			{Name: "app_key", Type: "string", Description: "Application holding the license", Required: true},
			{Name: "license_key", Type: "string", Description: "License to edit", Required: true},
			{Name: "new_license_key", Type: "string", Description: "Rename the license", Pattern: patternAlnum},
			{Name: "expiry", Type: "string", Description: "YYYY-MM-DD or a number of days from today"},
			{Name: "plan", Type: "string", Description: "New plan", Pattern: patternAlnum},
			{Name: "hwid", Type: "string", Description: "New hardware ID, bypassing the cooldown", Pattern: patternHWID},
		},
		Response: "Message",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/get_license",
		OperationID: "get_license",
		Summary:     "Read a license and its current state",
		Tag:         tagLicenses,
		Gated:       true,
		Params: []Param{
			{Name: "app_key", Type: "string", Description: "Application holding the license", Required: true},
			{Name: "license_key", Type: "string", Description: "License to read", Required: true, Pattern: patternAlnum},
		},
		Response: "LicenseDetail",
		Errors:   gatedErrors,
	},
	{
		Path:        "/auth/assign_hwid",
		OperationID: "assign_hwid",
		Summary:     "Bind a license to a hardware ID, at most once per cooldown",
		Tag:         tagClient,
		Params: []Param{
			{Name: "app_key", Type: "string", Description: "Application holding the license", Required: true},
			{Name: "license_key", Type: "string", Description: "License to bind", Required: true, Pattern: patternAlnum},
			{Name: "hwid", Type: "string", Description: "Hardware ID", Required: true, Pattern: patternHWID},
		},
		Response: "Message",
		Errors:   []int{400, 403, 404, 409, 422, 429, 503, 504},
	},
	{
		Path:        "/auth/signin",
		OperationID: "signin",
		Summary:     "Validate a license for an end-user client",
		Tag:         tagClient,
		Params: []Param{
			{Name: "application_key", Type: "string", Description: "Application holding the license", Required: true},
			{Name: "license_key", Type: "string", Description: "License presented by the client", Required: true, Pattern: patternAlnum},
			{Name: "hwid", Type: "string", Description: "Hardware ID of the client; must match the bound one when given"},
		},
		Response: "LicenseView",
		Errors:   []int{400, 403, 404, 422, 429, 503, 504},
	},
}

// Lookup returns the route with the given operation ID.
func Lookup(operationID string) (Route, bool) {
	for _, r := range Routes {
		if r.OperationID == operationID {
			return r, true
		}
	}
	return Route{}, false
}
