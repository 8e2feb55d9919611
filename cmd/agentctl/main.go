// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// agentctl is a CLI talking to a running agentd over its Local Control
// Surface (spec §4.6): connect, send, recv, request-password subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var controlAddr string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentctl drives a running agentd over its local control socket",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr", "127.0.0.1:8842", "agentd local control socket address")
}
