package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves a pre-rendered OpenAPI document.
type OpenAPIHandler struct {
	body []byte
}

// NewOpenAPIHandler renders doc once so every request gets identical bytes.
func NewOpenAPIHandler(doc *openapi3.T) (*OpenAPIHandler, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}
	return &OpenAPIHandler{body: body}, nil
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body)
}
