// Package manifest handles kiln.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/kilnlang/kiln/vm"
)

// Manifest represents a kiln.toml runtime configuration.
type Manifest struct {
	Runtime Runtime `toml:"runtime"`
	JIT     JIT     `toml:"jit"`
	Profile Profile `toml:"profile"`

	// Dir is the directory containing the kiln.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime contains execution limits and diagnostics settings.
type Runtime struct {
	RecursionLimit int  `toml:"recursion-limit"`
	Trace          bool `toml:"trace"`
}

// JIT configures adaptive compilation.
type JIT struct {
	Enabled       *bool  `toml:"enabled"`
	CallThreshold uint64 `toml:"call-threshold"`
	LoopThreshold uint64 `toml:"loop-threshold"`
}

// Profile configures hot-path statistics persistence.
type Profile struct {
	Store string `toml:"store"`
}

// Default returns the manifest used when no kiln.toml exists.
func Default() *Manifest {
	enabled := true
	return &Manifest{
		Runtime: Runtime{RecursionLimit: vm.DefaultRecursionLimit},
		JIT: JIT{
			Enabled:       &enabled,
			CallThreshold: vm.DefaultCallThreshold,
			LoopThreshold: vm.DefaultLoopThreshold,
		},
	}
}

// Load parses a kiln.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "kiln.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults for anything the file leaves unset.
	if m.JIT.CallThreshold == 0 {
		m.JIT.CallThreshold = vm.DefaultCallThreshold
	}
	if m.JIT.LoopThreshold == 0 {
		m.JIT.LoopThreshold = vm.DefaultLoopThreshold
	}
	if m.Runtime.RecursionLimit == 0 {
		m.Runtime.RecursionLimit = vm.DefaultRecursionLimit
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a kiln.toml file, then
// loads and returns the manifest. Returns Default() if none is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", startDir, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "kiln.toml")); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Options converts the manifest to machine options. The trace flag is
// also switched on by the KILN_JIT_TRACE environment variable.
func (m *Manifest) Options() vm.Options {
	opts := vm.Options{
		JIT:            true,
		CallThreshold:  m.JIT.CallThreshold,
		LoopThreshold:  m.JIT.LoopThreshold,
		RecursionLimit: m.Runtime.RecursionLimit,
		Trace:          m.Runtime.Trace || os.Getenv("KILN_JIT_TRACE") != "",
	}
	if m.JIT.Enabled != nil {
		opts.JIT = *m.JIT.Enabled
	}
	return opts
}
