package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Security scheme names.
const (
	SchemeCustomerKeyQuery  = "customerKeyQuery"
	SchemeCustomerKeyHeader = "customerKeyHeader"
)

// Generate builds the OpenAPI 3.1 document for the license API.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Pilot License API",
			Description: "Issue, validate and manage license keys for customer applications.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		SchemeCustomerKeyQuery: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "query",
				Name:        "customer_api_key",
				Description: "Customer API key provisioned with `pilot customer-key add`.",
			},
		},
		SchemeCustomerKeyHeader: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: "X-Customer-Key",
			},
		},
	}
	doc.Components = &components

	doc.Tags = openapi3.Tags{
		{Name: tagApplications, Description: "Application lifecycle (customer key required)"},
		{Name: tagLicenses, Description: "License issuance and editing (customer key required)"},
		{Name: tagClient, Description: "End-user client calls (no customer key)"},
	}

	doc.Paths = openapi3.NewPaths()
	for _, route := range Routes {
		doc.Paths.Set(route.Path, &openapi3.PathItem{Get: operation(route)})
	}
	return doc
}

func operation(route Route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{route.Tag},
		Summary:     route.Summary,
		OperationID: route.OperationID,
		Responses: newResponses("200", "Successful response",
			openapi3.NewSchemaRef("#/components/schemas/"+route.Response, nil), route.Errors),
	}
	for _, p := range route.Params {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: parameter(p)})
	}
	if route.Gated {
		op.Security = &openapi3.SecurityRequirements{
			{SchemeCustomerKeyQuery: {}},
			{SchemeCustomerKeyHeader: {}},
		}
	} else {
		op.Security = &openapi3.SecurityRequirements{}
	}
	return op
}

func parameter(p Param) *openapi3.Parameter {
	schema := &openapi3.Schema{
		Type:    &openapi3.Types{p.Type},
		Pattern: p.Pattern,
		Default: p.Default,
	}
	if p.Type == "integer" {
		schema.Format = "int64"
	}
	return &openapi3.Parameter{
		Name:        p.Name,
		In:          openapi3.ParameterInQuery,
		Description: p.Description,
		Required:    p.Required,
		Schema:      &openapi3.SchemaRef{Value: schema},
	}
}

// newResponses builds a Responses map with a success response and the given
// error responses plus 500.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes []int) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, code := range append(append([]int{}, errorCodes...), http.StatusInternalServerError) {
		desc := http.StatusText(code)
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

func componentSchemas() openapi3.Schemas {
	str := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
	}
	date := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date", Description: desc}}
	}
	integer := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Description: desc}}
	}
	boolean := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: desc}}
	}
	ref := func(name string) *openapi3.SchemaRef {
		return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
	}
	object := func(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		}}
	}
	array := func(items *openapi3.SchemaRef) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items}}
	}

	licenseProps := openapi3.Schemas{
		"license_key":      str("32 uppercase letters and digits when generated"),
		"expiry":           date("Last valid day"),
		"plan":             str(""),
		"hwid":             str("Bound hardware ID, empty when unbound"),
		"username":         str(""),
		"app":              str("Application key"),
		"last_hwid_change": date("Day of the last HWID assignment"),
		"version":          integer("Incremented on every change"),
	}
	detailProps := openapi3.Schemas{
		"state":                    {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []any{"valid", "expired", "hwid_locked", "app_paused"}}},
		"hwid_change_allowed_from": date("First day a new HWID may be assigned"),
	}
	for k, v := range licenseProps {
		detailProps[k] = v
	}

	return openapi3.Schemas{
		"Application": object(openapi3.Schemas{
			"app_key":    str("Pilot + 17 characters + -username"),
			"created_by": str(""),
			"paused":     boolean(""),
		}, "app_key", "created_by"),
		"ApplicationDetail": object(openapi3.Schemas{
			"app_key":    str(""),
			"created_by": str(""),
			"paused":     boolean(""),
			"licenses":   array(ref("License")),
		}),
		"AppKeyList":    array(object(openapi3.Schemas{"app_key": str("")}, "app_key")),
		"License":       object(licenseProps, "license_key", "expiry", "plan"),
		"LicenseDetail": object(detailProps, "license_key", "state"),
		"LicenseView": object(openapi3.Schemas{
			"license_key": str(""),
			"expiry":      date(""),
			"plan":        str(""),
			"hwid":        str(""),
			"app_paused":  boolean("Set when the application is paused"),
		}, "license_key", "expiry"),
		"Page": object(openapi3.Schemas{
			"items":     array(str("")),
			"page":      integer(""),
			"page_size": integer(""),
			"total":     integer("Matches across all pages"),
		}),
		"KeyListing": {Value: &openapi3.Schema{
			Description: "Keys joined with <br> by default; a Page with format=json.",
			OneOf:       openapi3.SchemaRefs{str(""), ref("Page")},
		}},
		"Message": object(openapi3.Schemas{
			"detail":  str(""),
			"message": str(""),
		}),
		"ErrorResponse": object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"message": str(""),
				"context": {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}),
			"detail": str("Same as error.message"),
		}),
	}
}
