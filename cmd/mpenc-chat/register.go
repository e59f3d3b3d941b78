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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mpenc/pkidir"
)

var (
	registerIdentity string
	registerOut      string
	registerTTL      string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Issue a signed certificate for a member's public key",
	Long: `Register issues a JWT certificate binding a member's name to its
public key, signed under the directory's shared signing key, read from
the environment variable named by directory.signing_key_env in the config
file (MPENC_SIGNING_KEY by default).

Every member who wants to talk to this one must pass the resulting
certificate to "join" with --cert.`,
	Example: `  export MPENC_SIGNING_KEY=a-shared-trust-root-secret
  mpenc-chat register --identity alice.identity.json --out alice.cert`,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVar(&registerIdentity, "identity", "", "this member's identity file (from keygen)")
	registerCmd.Flags().StringVar(&registerOut, "out", "", "certificate output file (default: stdout)")
	registerCmd.Flags().StringVar(&registerTTL, "ttl", "", "certificate validity, e.g. 24h (default: config's directory.token_ttl)")
	_ = registerCmd.MarkFlagRequired("identity")
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ttl := cfg.Directory.TokenTTL
	if registerTTL != "" {
		d, err := time.ParseDuration(registerTTL)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		ttl = d
	}

	member, priv, err := loadIdentity(registerIdentity)
	if err != nil {
		return err
	}
	key, err := signingKey(cfg)
	if err != nil {
		return err
	}

	dir := pkidir.New(key)
	cert, err := dir.Register(member, priv.Public().(ed25519.PublicKey), ttl)
	if err != nil {
		return fmt.Errorf("register %q: %w", member, err)
	}

	if registerOut == "" {
		fmt.Println(cert)
		return nil
	}
	if err := os.WriteFile(registerOut, []byte(cert), 0600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	fmt.Printf("certificate for %q written to %s\n", member, registerOut)
	return nil
}
