// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CatalogURI is the URI of the tool catalog resource.
const CatalogURI = "preflight://tools"

// CatalogEntry describes one tool in the catalog resource.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// AddResource adds a resource to the runtime.
//
// The resource handler is called when clients request the resource via
// resources/read. In library mode, it can be invoked directly via
// [Runtime.ReadResource].
func (r *Runtime) AddResource(res *mcp.Resource, h mcp.ResourceHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot add resource %q", ErrRegistrySealed, res.URI)
	}

	// Register with underlying MCP server
	r.server.AddResource(res, h)

	r.resources[res.URI] = resourceEntry{resource: res, handler: h}
	return nil
}

// AddToolCatalog exposes the registered tools as a JSON resource at
// [CatalogURI]. The catalog is rendered on every read.
func (r *Runtime) AddToolCatalog() error {
	return r.AddResource(&mcp.Resource{
		URI:         CatalogURI,
		Name:        "tools",
		Description: "Registered tools and their parameter schemas",
		MIMEType:    "application/json",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		b, err := json.Marshal(r.Catalog())
		if err != nil {
			return nil, fmt.Errorf("encoding tool catalog: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			}},
		}, nil
	})
}

// Catalog lists the registered tools sorted by name.
func (r *Runtime) Catalog() []CatalogEntry {
	tools := r.ListTools()
	entries := make([]CatalogEntry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, CatalogEntry{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return entries
}

// HasResource reports whether a resource with the given URI is registered.
func (r *Runtime) HasResource(uri string) bool {
	r.mu.RLock()
	_, ok := r.resources[uri]
	r.mu.RUnlock()
	return ok
}

// ResourceCount returns the number of registered resources.
func (r *Runtime) ResourceCount() int {
	r.mu.RLock()
	n := len(r.resources)
	r.mu.RUnlock()
	return n
}
