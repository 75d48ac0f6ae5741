// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads tool configuration files. Two formats are accepted:
// JSON with #-comment lines (the historical format) and YAML
// (the .hongg.yaml project file). Unknown fields are always rejected,
// a typo in a config must not silently fall back to a default.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/drahnr/hongg/pkg/osutil"
)

func LoadFile(filename string, cfg interface{}) error {
	if filename == "" {
		return fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		return loadYamlData(data, cfg)
	default:
		return LoadData(data, cfg)
	}
}

func LoadData(data []byte, cfg interface{}) error {
	// Remove comment lines starting with #.
	data = regexp.MustCompile(`(^|\n)\s*#[^\n]*`).ReplaceAll(data, nil)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		if field, ok := unknownField(err); ok {
			return fmt.Errorf("unknown field '%v' in config", field)
		}
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func loadYamlData(data []byte, cfg interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func SaveFile(filename string, cfg interface{}) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return osutil.WriteFile(filename, data)
}

// LoadEnvFile loads variable overrides from dir/.env into the process
// environment. Variables already set in the environment win. A missing
// file is not an error.
func LoadEnvFile(dir string) error {
	file := filepath.Join(dir, ".env")
	if !osutil.IsExist(file) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("failed to load %v: %w", file, err)
	}
	return nil
}

func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(msg[len(prefix):], `"`), true
}
