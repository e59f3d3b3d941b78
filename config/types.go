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

// Package config provides configuration management for the mpenc group
// messaging engine.
package config

import "time"

// Config is the top-level configuration for an mpenc engine process.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Protocol    ProtocolConfig `yaml:"protocol" json:"protocol"`
	Timing      TimingConfig   `yaml:"timing" json:"timing"`
	TLV         TLVConfig      `yaml:"tlv" json:"tlv"`
	Channel     ChannelConfig  `yaml:"channel" json:"channel"`
	Directory   DirectoryConfig `yaml:"directory" json:"directory"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ProtocolConfig carries the wire-level constants of the engine.
type ProtocolConfig struct {
	// Version is the single protocol-version byte both peers must agree on.
	Version uint8 `yaml:"version" json:"version"`
}

// TimingConfig carries the tick/duration tunables referenced throughout
// spec §4.7-§4.9 (consistency monitor, fin timers).
type TimingConfig struct {
	// BroadcastLatency is the assumed one-way delivery latency of the channel.
	BroadcastLatency time.Duration `yaml:"broadcast_latency" json:"broadcast_latency"`
	// FullAckInterval is how long a message may sit unacked before a
	// consistency check is scheduled.
	FullAckInterval time.Duration `yaml:"full_ack_interval" json:"full_ack_interval"`
	// FinTimeoutRatio scales BroadcastLatency into the hard fin timeout.
	FinTimeoutRatio float64 `yaml:"fin_timeout_ratio" json:"fin_timeout_ratio"`
	// FinConsistentRatio scales BroadcastLatency into the fin grace delay.
	FinConsistentRatio float64 `yaml:"fin_consistent_ratio" json:"fin_consistent_ratio"`
	// TrialDecryptTimeout bounds how long a ciphertext may wait for its
	// missing parents before NotDecrypted fires.
	TrialDecryptTimeout time.Duration `yaml:"trial_decrypt_timeout" json:"trial_decrypt_timeout"`
}

// FinTimeout returns the hard fin deadline in absolute duration terms.
func (t TimingConfig) FinTimeout() time.Duration {
	return time.Duration(float64(t.BroadcastLatency) * t.FinTimeoutRatio)
}

// FinConsistentDelay returns the grace delay in absolute duration terms.
func (t TimingConfig) FinConsistentDelay() time.Duration {
	return time.Duration(float64(t.BroadcastLatency) * t.FinConsistentRatio)
}

// TLVConfig carries the data-message plaintext padding tunable.
type TLVConfig struct {
	// PaddingSize is the block size messages are padded to (0 disables padding).
	PaddingSize int `yaml:"padding_size" json:"padding_size"`
}

// ChannelConfig configures the websocket broadcast-room reference transport.
type ChannelConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	DialURL    string `yaml:"dial_url" json:"dial_url"`
	Room       string `yaml:"room" json:"room"`
}

// DirectoryConfig configures the JWT-backed static public-key directory.
type DirectoryConfig struct {
	Issuer     string        `yaml:"issuer" json:"issuer"`
	SigningKey string        `yaml:"signing_key_env" json:"signing_key_env"`
	TokenTTL   time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output string `yaml:"output" json:"output"` // stdout, stderr
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig contains metrics-endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}
