// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the preflight-mcp command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "preflight-mcp",
		Short: "MCP server exposing schema-validated system tools",
		Long: "preflight-mcp serves named, schema-validated tools over MCP (stdio) " +
			"and optional HTTP routes, wrapping every result in a uniform envelope.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to preflight.yaml (default: ./preflight.yaml, then ~/.preflight/config.yaml)")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "Log format: text or json")
	root.PersistentFlags().String("timezone", "UTC", "Fallback IANA timezone for system.dateTime")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("preflight-mcp version %s\n", version))

	root.AddCommand(NewServeCmd(version))
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewCallCmd())
	return root
}
