// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package tools binds the system service functions to tool names.
package tools

import (
	"errors"

	preflight "github.com/jommar/preflight-mcp"
	"github.com/jommar/preflight-mcp/internal/system"
)

// Tool names. They are public API; renaming one breaks clients.
const (
	NamePing     = "system.ping"
	NameDateTime = "system.dateTime"
)

// Config carries the settings tool contracts depend on.
type Config struct {
	// DefaultTimezone fills in system.dateTime's timezone when absent.
	DefaultTimezone string
}

// Register adds every system tool to rt.
func Register(rt *preflight.Runtime, svc *system.Service, cfg Config) error {
	if _, err := system.LoadTimezone(cfg.DefaultTimezone); err != nil {
		return err
	}

	return errors.Join(
		preflight.RegisterTool(rt, preflight.ToolSpec{
			Name:        NamePing,
			Description: "Check that the server is alive, optionally echoing a message",
			Params: preflight.Params{
				{Name: "message", Type: preflight.TypeString, Description: "Text echoed back in the response"},
			},
		}, svc.Ping),
		preflight.RegisterTool(rt, preflight.ToolSpec{
			Name:        NameDateTime,
			Description: "Current date and time in an IANA timezone",
			Params: preflight.Params{
				{
					Name:        "timezone",
					Type:        preflight.TypeString,
					Default:     cfg.DefaultTimezone,
					Description: "IANA timezone name, for example Europe/Berlin",
				},
			},
		}, svc.DateTime),
	)
}
