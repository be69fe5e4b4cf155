// Package config loads the declarative project description: which modules
// exist, where their sources live, and how each one is batched.
//
// Configuration is explicit and file-based. The only ambient inputs are the
// documented UNITYBATCH_* environment overrides, which exist for stress
// testing and CI toggles and are themselves loadable from a .env file next to
// the project file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBytesPerUnit is the per-unit size budget applied when neither the
// project defaults nor the module set one. 384 KiB keeps single-unit compile
// times reasonable on large modules.
const DefaultBytesPerUnit int64 = 384 << 10

// DefaultWorkingSetMinutes is the adaptive working-set window applied when
// the project does not set one: files modified within this many minutes of
// the invocation count as actively edited.
const DefaultWorkingSetMinutes = 15

// Project is the top-level configuration document.
type Project struct {
	// Defaults apply to every module unless overridden per module.
	Defaults Defaults `yaml:"defaults"`

	// Modules are the buildable modules, in file order.
	Modules []Module `yaml:"modules"`
}

// Defaults holds project-wide batching settings.
type Defaults struct {
	// BytesPerUnit is the per-unit size budget in bytes. Zero selects
	// DefaultBytesPerUnit; a negative value means unlimited.
	BytesPerUnit int64 `yaml:"bytes_per_unit"`

	// Adaptive enables adaptive unity across the project.
	Adaptive bool `yaml:"adaptive"`

	// WorkingSetMinutes is the working-set mtime window in minutes. Zero
	// selects DefaultWorkingSetMinutes.
	WorkingSetMinutes int `yaml:"working_set_minutes"`
}

// Module describes one buildable module.
type Module struct {
	// Name is the unique module name; it appears in generated file names.
	Name string `yaml:"name"`

	// Dir is the module source directory, relative to the project file's
	// directory or absolute.
	Dir string `yaml:"dir"`

	// PCH reports whether the module compiles against a precompiled header.
	PCH bool `yaml:"pch"`

	// Unity disables batching entirely for the module when false.
	// Nil means enabled.
	Unity *bool `yaml:"unity"`

	// Adaptive overrides the project default when set.
	Adaptive *bool `yaml:"adaptive"`

	// BytesPerUnit overrides the project default when set.
	BytesPerUnit *int64 `yaml:"bytes_per_unit"`
}

// Load reads and validates a project file.
//
// Module directories are resolved against the project file's directory, so a
// loaded Project never depends on the process working directory.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}
	var p Project
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing project file %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	if !filepath.IsAbs(baseDir) {
		abs, err := filepath.Abs(baseDir)
		if err != nil {
			return nil, fmt.Errorf("resolving project dir: %w", err)
		}
		baseDir = abs
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	for i := range p.Modules {
		if !filepath.IsAbs(p.Modules[i].Dir) {
			p.Modules[i].Dir = filepath.Join(baseDir, p.Modules[i].Dir)
		}
		p.Modules[i].Dir = filepath.Clean(p.Modules[i].Dir)
	}
	return &p, nil
}

func (p *Project) validate() error {
	if len(p.Modules) == 0 {
		return fmt.Errorf("project declares no modules")
	}
	seen := make(map[string]struct{}, len(p.Modules))
	for i, m := range p.Modules {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("modules[%d]: name is required", i)
		}
		if strings.ContainsAny(m.Name, `/\`) {
			return fmt.Errorf("modules[%d]: name %q must not contain path separators", i, m.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate module name: %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		if strings.TrimSpace(m.Dir) == "" {
			return fmt.Errorf("module %q: dir is required", m.Name)
		}
	}
	return nil
}

// UnityEnabled reports whether batching is on for the module.
func (m Module) UnityEnabled() bool {
	return m.Unity == nil || *m.Unity
}

// EffectiveAdaptive resolves the module's adaptive setting against defaults.
func (m Module) EffectiveAdaptive(d Defaults) bool {
	if m.Adaptive != nil {
		return *m.Adaptive
	}
	return d.Adaptive
}

// EffectiveBytesPerUnit resolves the module's size budget against defaults.
func (m Module) EffectiveBytesPerUnit(d Defaults) int64 {
	if m.BytesPerUnit != nil {
		return *m.BytesPerUnit
	}
	if d.BytesPerUnit != 0 {
		return d.BytesPerUnit
	}
	return DefaultBytesPerUnit
}

// EffectiveWorkingSetMinutes resolves the working-set window.
func (d Defaults) EffectiveWorkingSetMinutes() int {
	if d.WorkingSetMinutes > 0 {
		return d.WorkingSetMinutes
	}
	return DefaultWorkingSetMinutes
}
