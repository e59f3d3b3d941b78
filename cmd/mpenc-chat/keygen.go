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

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	keygenMember string
	keygenOut    string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new member identity",
	Long: `Generate an Ed25519 identity for a member and write it to a file.

The identity file holds both the private and public key; keep it secret.
Hand peers the certificate "register" issues for it (they pass it to
"join" with --cert), never the identity file itself.`,
	Example: `  mpenc-chat keygen --member alice --out alice.identity.json`,
	RunE:    runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenMember, "member", "m", "", "member name this identity belongs to")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "identity output file")
	_ = keygenCmd.MarkFlagRequired("member")
	_ = keygenCmd.MarkFlagRequired("out")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	if err := writeIdentity(keygenOut, keygenMember, pub, priv); err != nil {
		return err
	}
	fmt.Printf("identity for %q written to %s\n", keygenMember, keygenOut)
	return nil
}
