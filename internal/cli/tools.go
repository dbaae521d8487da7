// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	cmd.Flags().Bool("json", false, "Print the tool catalog as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr(), "")
	if err != nil {
		return err
	}
	catalog := a.runtime.Catalog()

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, entry := range catalog {
		fmt.Fprintf(tw, "%s\t%s\n", entry.Name, entry.Description)
	}
	return tw.Flush()
}
