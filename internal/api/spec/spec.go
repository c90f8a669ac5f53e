// Package spec embeds and serves the OpenAPI description of the HTTP API.
package spec

import (
	_ "embed"
	"fmt"
	"net/http"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

// Document is the subset of the OpenAPI document the service inspects.
type Document struct {
	OpenAPI string `yaml:"openapi"`
	Info    struct {
		Title   string `yaml:"title"`
		Version string `yaml:"version"`
	} `yaml:"info"`
	Paths map[string]map[string]yaml.Node `yaml:"paths"`
}

// Load parses the embedded document.
func Load() (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(openapiYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	return &doc, nil
}

// Operations returns "METHOD /path" for every documented operation, sorted.
func (d *Document) Operations() []string {
	var ops []string
	for path, item := range d.Paths {
		for method := range item {
			switch method {
			case "get", "post", "put", "patch", "delete":
				ops = append(ops, fmt.Sprintf("%s %s", upper(method), path))
			}
		}
	}
	sort.Strings(ops)
	return ops
}

func upper(method string) string {
	switch method {
	case "get":
		return http.MethodGet
	case "post":
		return http.MethodPost
	case "put":
		return http.MethodPut
	case "patch":
		return http.MethodPatch
	default:
		return http.MethodDelete
	}
}

// OpenAPIHandler serves the embedded document as YAML.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapiYAML)
	}
}
