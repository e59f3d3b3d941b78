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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sage-x-project/mpenc/config"
	"github.com/sage-x-project/mpenc/pkidir"
)

// identityFile is the on-disk representation written by keygen and read
// by every other subcommand that needs to act as a member.
type identityFile struct {
	Member     string `json:"member"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func loadIdentity(path string) (member string, priv ed25519.PrivateKey, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read identity file: %w", err)
	}
	var id identityFile
	if err := json.Unmarshal(data, &id); err != nil {
		return "", nil, fmt.Errorf("parse identity file: %w", err)
	}
	privBytes, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil || len(privBytes) != ed25519.PrivateKeySize {
		return "", nil, fmt.Errorf("identity file has an invalid private key")
	}
	return id.Member, ed25519.PrivateKey(privBytes), nil
}

func writeIdentity(path, member string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	id := identityFile{
		Member:     member,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// loadConfig loads the engine config from --config, falling back to
// engine defaults. The directory's signing key is resolved separately by
// signingKey, from the environment variable the config names.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(configPath)
}

func signingKey(cfg *config.Config) ([]byte, error) {
	envVar := cfg.Directory.SigningKey
	if envVar == "" {
		envVar = "MPENC_SIGNING_KEY"
	}
	v := os.Getenv(envVar)
	if v == "" {
		return nil, fmt.Errorf("directory signing key not set: export %s", envVar)
	}
	return []byte(v), nil
}

// buildDirectory constructs a pkidir.Directory trusting cfg's signing
// key and imports every certificate found in certFiles.
func buildDirectory(cfg *config.Config, certFiles []string) (*pkidir.Directory, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	dir := pkidir.New(key)
	for _, f := range certFiles {
		cert, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read certificate %s: %w", f, err)
		}
		if err := dir.Import(string(cert)); err != nil {
			return nil, fmt.Errorf("import certificate %s: %w", f, err)
		}
	}
	return dir, nil
}
