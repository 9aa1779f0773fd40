// Package config loads the CLI configuration.
//
// Settings come from an optional YAML file, then MINIDB_* environment
// variables, then command-line flags. The merged result is validated
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "MINIDB_"

// File is the CLI configuration.
type File struct {
	Dir     string `yaml:"dir" env:"DIR"`
	Name    string `yaml:"name" env:"NAME"`
	Driver  string `yaml:"driver" env:"DRIVER"`
	Version int    `yaml:"version" env:"VERSION"`

	// Seed is written when the database is created.
	Seed map[string]any `yaml:"seed"`

	// Migrations maps a version to a CUE expression over `in`.
	Migrations map[int]string `yaml:"migrations"`
}

// Load reads path. An empty path yields an empty File.
func Load(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}

	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	defer r.Close()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return f, nil
}

// ApplyEnv overrides f with MINIDB_* variables that are set.
func ApplyEnv(f *File) error {
	if err := env.ParseWithOptions(f, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve loads path and applies the environment.
func Resolve(path string) (*File, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks f against the configuration schema.
func Validate(f *File) error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	doc := cctx.Encode(f.document())
	if err := doc.Err(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// document returns f as a generic mapping keyed like the YAML file,
// omitting unset fields.
func (f *File) document() map[string]any {
	doc := make(map[string]any)
	if f.Dir != "" {
		doc["dir"] = f.Dir
	}
	if f.Name != "" {
		doc["name"] = f.Name
	}
	if f.Driver != "" {
		doc["driver"] = f.Driver
	}
	doc["version"] = f.Version
	if f.Seed != nil {
		doc["seed"] = f.Seed
	}
	if len(f.Migrations) > 0 {
		m := make(map[string]any, len(f.Migrations))
		for v, expr := range f.Migrations {
			m[strconv.Itoa(v)] = expr
		}
		doc["migrations"] = m
	}
	return doc
}
