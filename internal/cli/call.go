// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCallCmd creates the "call" subcommand, which dispatches one tool in
// library mode and prints its envelope.
func NewCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-params]",
		Short: "Invoke a tool once and print its envelope",
		Example: `  preflight-mcp call system.ping '{"message":"hi"}'
  preflight-mcp call system.dateTime '{"timezone":"Europe/Berlin"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCall,
	}
}

func runCall(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr(), "")
	if err != nil {
		return err
	}

	var params map[string]any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return exitError(exitConfig, "params must be a JSON object: %v", err)
		}
	}

	env := a.runtime.Dispatch(cmd.Context(), args[0], params)
	fmt.Fprintln(cmd.OutOrStdout(), string(env.JSON()))
	if !env.OK {
		return exitError(exitToolFailed, "%s", env.ErrorMessage())
	}
	return nil
}
