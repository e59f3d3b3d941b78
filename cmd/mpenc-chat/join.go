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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/mpenc/channel"
	"github.com/sage-x-project/mpenc/config"
	"github.com/sage-x-project/mpenc/hybrid"
	"github.com/sage-x-project/mpenc/session"
)

var (
	joinIdentity string
	joinDialURL  string
	joinCerts    []string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a group and chat from an interactive prompt",
	Long: `Join dials the broadcast room, enters the channel, and reads
commands from stdin:

  /invite name [name...]    propose adding members to the group
  /exclude name [name...]   propose removing members from the group
  /members                  print the current four-letter engine state
  /part                     quit the group and leave the channel
  anything else             send it as a group message

Every certificate passed with --cert (see "register") must have been
issued under the same directory signing key.`,
	Example: `  mpenc-chat join --identity alice.identity.json \
    --dial-url ws://localhost:8765/room \
    --cert bob.cert --cert carol.cert`,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVar(&joinIdentity, "identity", "", "this member's identity file (from keygen)")
	joinCmd.Flags().StringVar(&joinDialURL, "dial-url", "", "room URL, e.g. ws://host:8765/room (default: config's channel.dial_url)")
	joinCmd.Flags().StringArrayVar(&joinCerts, "cert", nil, "a peer's certificate file (from register); repeatable")
	_ = joinCmd.MarkFlagRequired("identity")
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		BroadcastLatency:   cfg.Timing.BroadcastLatency,
		FinTimeoutRatio:    int(cfg.Timing.FinTimeoutRatio),
		FinConsistentRatio: int(cfg.Timing.FinConsistentRatio),
		FullAckInterval:    cfg.Timing.FullAckInterval,
	}
}

func printEvent(self string, e hybrid.Event) {
	switch e.Kind {
	case hybrid.MsgAccepted:
		if e.Body != nil {
			fmt.Printf("%s: %s\n", e.Author, string(e.Body))
		}
	case hybrid.MembersChange:
		if len(e.Include) > 0 {
			fmt.Printf("* joined: %s\n", strings.Join(e.Include, ", "))
		}
		if len(e.Exclude) > 0 {
			fmt.Printf("* left: %s\n", strings.Join(e.Exclude, ", "))
		}
	case hybrid.StateChange:
		fmt.Printf("* state: %s\n", e.State)
	case hybrid.NotDecrypted:
		fmt.Printf("* could not decrypt a message from %s\n", e.Author)
	}
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dialURL := joinDialURL
	if dialURL == "" {
		dialURL = cfg.Channel.DialURL
	}
	if dialURL == "" {
		return fmt.Errorf("no dial URL: pass --dial-url or set config's channel.dial_url")
	}

	member, priv, err := loadIdentity(joinIdentity)
	if err != nil {
		return err
	}
	dir, err := buildDirectory(cfg, joinCerts)
	if err != nil {
		return err
	}

	ch := channel.NewWSChannel(dialURL, member)
	s := hybrid.New(member, priv, dir, ch, sessionConfig(cfg))
	s.Subscribe(func(e hybrid.Event) { printEvent(member, e) })

	if err := s.Execute(hybrid.Action{Join: true}); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	fmt.Printf("joined as %q; type a message, or /invite, /exclude, /members, /part\n", member)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(s, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if line == "/part" {
			return nil
		}
	}
	return s.Execute(hybrid.Action{Part: true})
}

func handleLine(s *hybrid.Session, line string) error {
	switch {
	case line == "/part":
		return s.Execute(hybrid.Action{Part: true})
	case line == "/members":
		fmt.Printf("* state: %s\n", s.State())
		return nil
	case strings.HasPrefix(line, "/invite "):
		return s.Execute(hybrid.Action{Include: strings.Fields(strings.TrimPrefix(line, "/invite "))})
	case strings.HasPrefix(line, "/exclude "):
		return s.Execute(hybrid.Action{Exclude: strings.Fields(strings.TrimPrefix(line, "/exclude "))})
	default:
		return s.Execute(hybrid.Action{Contents: []byte(line)})
	}
}
