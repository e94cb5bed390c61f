package openapi

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	errorSchemaRef = "#/components/schemas/ErrorResponse"
	userSchemaRef  = "#/components/schemas/User"
	loginSchemaRef = "#/components/schemas/LoginResponse"
)

// Options describes the deployment the document is generated for. The login
// path and key header are configurable, so the document follows them.
type Options struct {
	Version      string
	BaseURL      string
	LoginPath    string
	APIKeyHeader string
}

// GenerateAuthSpec generates an OpenAPI 3.0 document for the keygate HTTP
// surface: the API-key login exchange, the session-protected principal
// lookup, and the health probes.
func GenerateAuthSpec(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/api/auth-by-api-key"
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "Exchange an API key for a session token and look up the authenticated principal.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        opts.APIKeyHeader,
			Description: "Raw API key. Only accepted on the login route.",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Session token returned by the login route.",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = errorSchema()
	doc.Components.Schemas["User"] = userSchema()
	doc.Components.Schemas["LoginResponse"] = loginSchema()
	doc.Components.Schemas["HealthResponse"] = healthSchema()

	doc.Paths = openapi3.NewPaths()

	login := &openapi3.Operation{
		OperationID: "authByApiKey",
		Summary:     "Exchange an API key for a session",
		Description: "Authenticates the key sent in the " + opts.APIKeyHeader + " header. " +
			"The key is hashed and matched against active keys only.",
		Tags:      []string{"auth"},
		Security:  &openapi3.SecurityRequirements{{"apiKey": {}}},
		Responses: authResponses("Authenticated", ref(loginSchemaRef, loginSchema())),
	}
	doc.Paths.Set(opts.LoginPath, &openapi3.PathItem{Post: login})

	current := &openapi3.Operation{
		OperationID: "currentPrincipal",
		Summary:     "Return the authenticated user",
		Tags:        []string{"auth"},
		Security:    &openapi3.SecurityRequirements{{"bearerAuth": {}}},
		Responses:   authResponses("Current user", ref(userSchemaRef, userSchema())),
	}
	doc.Paths.Set("/api/current-principal", &openapi3.PathItem{Get: current})

	doc.Paths.Set("/healthz", &openapi3.PathItem{Get: probe("healthz", "Liveness probe", false)})
	doc.Paths.Set("/readyz", &openapi3.PathItem{Get: probe("readyz", "Readiness probe (pings the credential store)", true)})

	return doc
}

// ─── Operation Helpers ──────────────────────────────────────────────────────

// authResponses builds a Responses map with a success response and the 401
// every authenticated route can return.
func authResponses(description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	okDesc := description
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &okDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	unauthDesc := "Unauthorized"
	responses.Set("401", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &unauthDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(errorSchemaRef, errorSchema())),
		},
	})

	return responses
}

func probe(id, summary string, withUnavailable bool) *openapi3.Operation {
	responses := openapi3.NewResponses()
	health := ref("#/components/schemas/HealthResponse", healthSchema())

	okDesc := "Healthy"
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &okDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(health),
		},
	})
	if withUnavailable {
		downDesc := http.StatusText(http.StatusServiceUnavailable)
		responses.Set("503", &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &downDesc,
				Content:     openapi3.NewContentWithJSONSchemaRef(health),
			},
		})
	}

	return &openapi3.Operation{
		OperationID: id,
		Summary:     summary,
		Tags:        []string{"system"},
		Security:    &openapi3.SecurityRequirements{},
		Responses:   responses,
	}
}

// ref returns a component reference that still carries its resolved value,
// so the document validates without a loader pass.
func ref(path string, schema *openapi3.SchemaRef) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(path, schema.Value)
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"error"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:     &openapi3.Types{"object"},
						Required: []string{"code", "message"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func userSchema() *openapi3.SchemaRef {
	str := func(format, desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:        &openapi3.Types{"string"},
			Format:      format,
			Description: desc,
		}}
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"id", "email"},
			Properties: openapi3.Schemas{
				"id":         str("uuid", "User identifier."),
				"email":      str("email", ""),
				"first_name": str("", ""),
				"last_name":  str("", ""),
				"username":   str("", "Preferred display name; the email is used when empty."),
				"created_at": str("date-time", ""),
				"updated_at": str("date-time", ""),
			},
		},
	}
}

func loginSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"user", "session_token", "token_type", "expires_in"},
			Properties: openapi3.Schemas{
				"user": ref(userSchemaRef, userSchema()),
				"session_token": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"string"},
					Description: "Bearer token for follow-up requests.",
				}},
				"token_type": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type: &openapi3.Types{"string"},
					Enum: []interface{}{"bearer"},
				}},
				"expires_in": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"integer"},
					Format:      "int32",
					Description: "Session lifetime in seconds.",
				}},
				"authorities": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:  &openapi3.Types{"array"},
					Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				}},
			},
		},
	}
}

func healthSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"status"},
			Properties: openapi3.Schemas{
				"status": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"store":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
}
