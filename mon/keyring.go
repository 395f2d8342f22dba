/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mon

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/NVIDIA/radstore/cmn/cos"

	"gopkg.in/yaml.v3"
)

// Keyring maps entity names to their shared secrets. Both sides load
// the same file: the server to verify proofs, the client to produce
// them.
type (
	KeyEntry struct {
		Key  string `yaml:"key"` // base64
		Caps string `yaml:"caps,omitempty"`
	}
	Keyring struct {
		Entities map[string]KeyEntry `yaml:"entities"`
	}
)

func LoadKeyring(path string) (*Keyring, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kr := &Keyring{}
	if err := yaml.Unmarshal(b, kr); err != nil {
		return nil, fmt.Errorf("keyring %s: %v", path, err)
	}
	return kr, nil
}

func (kr *Keyring) Save(path string) error {
	b, err := yaml.Marshal(kr)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (kr *Keyring) Add(entity string, secret []byte, caps string) {
	if kr.Entities == nil {
		kr.Entities = make(map[string]KeyEntry, 4)
	}
	kr.Entities[entity] = KeyEntry{
		Key:  base64.StdEncoding.EncodeToString(secret),
		Caps: caps,
	}
}

func (kr *Keyring) Secret(entity string) ([]byte, error) {
	ent, ok := kr.Entities[entity]
	if !ok {
		return nil, cos.ErrNotFound
	}
	secret, err := base64.StdEncoding.DecodeString(ent.Key)
	if err != nil {
		return nil, fmt.Errorf("keyring entity %q: %v", entity, err)
	}
	return secret, nil
}

func (kr *Keyring) Caps(entity string) string { return kr.Entities[entity].Caps }
