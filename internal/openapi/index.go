// Package openapi loads and indexes OpenAPI specifications so template
// validation can check api_call endpoints against the backends' published
// contracts before any action runs.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI spec file to load.
type SpecSource struct {
	ServiceID string
	SpecPath  string
}

// IndexedRoute is one method+path a service publishes.
type IndexedRoute struct {
	ServiceID    string
	Method       string
	PathTemplate string
	OperationID  string
}

// Index is an in-memory index of service routes. It is built once at
// startup and read-only afterwards.
type Index struct {
	routes    map[string][]IndexedRoute // serviceID to routes
	byService map[string]bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		routes:    make(map[string][]IndexedRoute),
		byService: make(map[string]bool),
	}
}

// Load parses OpenAPI specs from the given sources and indexes every
// operation's method and path.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
		}

		idx.byService[src.ServiceID] = true
		for path, pathItem := range doc.Paths.Map() {
			for method, op := range pathItem.Operations() {
				idx.routes[src.ServiceID] = append(idx.routes[src.ServiceID], IndexedRoute{
					ServiceID:    src.ServiceID,
					Method:       method,
					PathTemplate: path,
					OperationID:  op.OperationID,
				})
			}
		}
	}
	return nil
}

// HasService reports whether any spec was loaded for the service.
func (idx *Index) HasService(serviceID string) bool {
	return idx.byService[serviceID]
}

// HasRoute reports whether the service publishes the given method and
// path. Concrete path segments match {param} template segments.
func (idx *Index) HasRoute(serviceID, method, path string) bool {
	for _, route := range idx.routes[serviceID] {
		if route.Method == method && pathMatches(route.PathTemplate, path) {
			return true
		}
	}
	return false
}

// Routes returns all indexed routes for a service, sorted by path then
// method.
func (idx *Index) Routes(serviceID string) []IndexedRoute {
	out := make([]IndexedRoute, len(idx.routes[serviceID]))
	copy(out, idx.routes[serviceID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].PathTemplate != out[j].PathTemplate {
			return out[i].PathTemplate < out[j].PathTemplate
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// pathMatches compares a spec path template segment by segment against a
// path from action configuration. A {param} segment matches any non-empty
// segment, including one that is itself a placeholder.
func pathMatches(template, path string) bool {
	tparts := strings.Split(strings.Trim(template, "/"), "/")
	pparts := strings.Split(strings.Trim(path, "/"), "/")
	if len(tparts) != len(pparts) {
		return false
	}
	for i, tp := range tparts {
		if strings.HasPrefix(tp, "{") && strings.HasSuffix(tp, "}") {
			if pparts[i] == "" {
				return false
			}
			continue
		}
		if tp != pparts[i] {
			return false
		}
	}
	return true
}
