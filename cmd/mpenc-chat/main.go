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

// mpenc-chat is a reference client/server for the mpenc group messaging
// engine: it runs a websocket broadcast room, mints identities and peer
// certificates for the JWT-backed directory, and drives a hybrid.Session
// from an interactive prompt.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mpenc-chat",
	Short: "mpenc group messaging engine: reference client and room server",
	Long: `mpenc-chat drives the mpenc group messaging engine end to end.

It supports:
- generating member identities and JWT peer certificates
- running the websocket broadcast room a group talks through
- joining a group, exchanging encrypted messages, and inviting or
  excluding members from an interactive prompt`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (default: engine defaults)")
}
