// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type testConfig struct {
	Foo int      `json:"foo" yaml:"foo"`
	Bar string   `json:"bar" yaml:"bar"`
	Qux []string `json:"qux" yaml:"qux"`
}

func TestLoadData(t *testing.T) {
	tests := []struct {
		input  string
		output testConfig
		err    string
	}{
		{
			`{"foo": 42}`,
			testConfig{Foo: 42},
			"",
		},
		{
			"# comment\n{\"foo\": 1, \"bar\": \"baz\"}",
			testConfig{Foo: 1, Bar: "baz"},
			"",
		},
		{
			`{"qux": ["aaa", "bbb"]}`,
			testConfig{Qux: []string{"aaa", "bbb"}},
			"",
		},
		{
			`{"foobar": 42}`,
			testConfig{},
			"unknown field 'foobar' in config",
		},
		{
			`{"foo": `,
			testConfig{},
			"failed to parse config file: unexpected EOF",
		},
	}
	for _, test := range tests {
		var cfg testConfig
		err := LoadData([]byte(test.input), &cfg)
		if test.err == "" {
			if err != nil {
				t.Fatalf("input %q: %v", test.input, err)
			}
			if !reflect.DeepEqual(cfg, test.output) {
				t.Fatalf("input %q: got %+v, want %+v", test.input, cfg, test.output)
			}
			continue
		}
		if err == nil || err.Error() != test.err {
			t.Fatalf("input %q: got error %v, want %q", test.input, err, test.err)
		}
	}
}

func TestLoadYaml(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "project.hongg.yaml")
	data := "foo: 7\nbar: quux\nqux:\n  - one\n  - two\n"
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	var cfg testConfig
	if err := LoadFile(file, &cfg); err != nil {
		t.Fatal(err)
	}
	want := testConfig{Foo: 7, Bar: "quux", Qux: []string{"one", "two"}}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("nosuchfield: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(bad, &cfg); err == nil {
		t.Fatalf("unknown yaml field was accepted")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnvFile(dir); err != nil {
		t.Fatalf("missing .env reported as error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HONGG_TEST_ENV_KEY=from_file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HONGG_TEST_ENV_KEY", "from_env")
	if err := LoadEnvFile(dir); err != nil {
		t.Fatal(err)
	}
	// Process environment wins over the file.
	if got := os.Getenv("HONGG_TEST_ENV_KEY"); got != "from_env" {
		t.Fatalf("got %q", got)
	}
}
