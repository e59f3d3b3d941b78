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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/hybrid"
)

var (
	membersIdentity string
	membersDialURL  string
	membersCerts    []string
)

var membersCmd = &cobra.Command{
	Use:   "list-members",
	Short: "Print the channel's current membership, then leave",
	Long: `List-members briefly joins the channel, waits for the room's
membership notice, prints the resulting member list, and leaves again.
It does not take part in any greeting.`,
	Example: `  mpenc-chat list-members --identity alice.identity.json --dial-url ws://localhost:8765/room`,
	RunE:    runMembers,
}

func init() {
	rootCmd.AddCommand(membersCmd)
	membersCmd.Flags().StringVar(&membersIdentity, "identity", "", "this member's identity file (from keygen)")
	membersCmd.Flags().StringVar(&membersDialURL, "dial-url", "", "room URL, e.g. ws://host:8765/room (default: config's channel.dial_url)")
	membersCmd.Flags().StringArrayVar(&membersCerts, "cert", nil, "a peer's certificate file (from register); repeatable")
	_ = membersCmd.MarkFlagRequired("identity")
}

func runMembers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dialURL := membersDialURL
	if dialURL == "" {
		dialURL = cfg.Channel.DialURL
	}
	if dialURL == "" {
		return fmt.Errorf("no dial URL: pass --dial-url or set config's channel.dial_url")
	}

	member, priv, err := loadIdentity(membersIdentity)
	if err != nil {
		return err
	}
	dir, err := buildDirectory(cfg, membersCerts)
	if err != nil {
		return err
	}

	ch := channel.NewWSChannel(dialURL, member)
	s := hybrid.New(member, priv, dir, ch, sessionConfig(cfg))

	if err := s.Execute(hybrid.Action{Join: true}); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}

	time.Sleep(200 * time.Millisecond)
	members, ok := ch.CurMembers()
	if err := s.Execute(hybrid.Action{Part: true}); err != nil {
		return fmt.Errorf("leave channel: %w", err)
	}
	if !ok {
		return fmt.Errorf("left the channel before its membership notice arrived")
	}

	fmt.Println(strings.Join(members, "\n"))
	return nil
}
