package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilnlang/kiln/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "kiln.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
recursion-limit = 500
trace = true

[jit]
enabled = false
call-threshold = 10
loop-threshold = 20

[profile]
store = "profile.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Runtime.RecursionLimit != 500 || !m.Runtime.Trace {
		t.Errorf("runtime section: %+v", m.Runtime)
	}
	if m.JIT.Enabled == nil || *m.JIT.Enabled {
		t.Error("jit.enabled = false must survive parsing")
	}
	if m.JIT.CallThreshold != 10 || m.JIT.LoopThreshold != 20 {
		t.Errorf("jit thresholds: %+v", m.JIT)
	}
	if m.Profile.Store != "profile.db" {
		t.Errorf("profile store: %q", m.Profile.Store)
	}
	if m.Dir == "" || !filepath.IsAbs(m.Dir) {
		t.Errorf("dir must be absolute, got %q", m.Dir)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[profile]\nstore = \"x.db\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.JIT.CallThreshold != vm.DefaultCallThreshold {
		t.Errorf("call threshold default: got %d", m.JIT.CallThreshold)
	}
	if m.JIT.LoopThreshold != vm.DefaultLoopThreshold {
		t.Errorf("loop threshold default: got %d", m.JIT.LoopThreshold)
	}
	if m.Runtime.RecursionLimit != vm.DefaultRecursionLimit {
		t.Errorf("recursion limit default: got %d", m.Runtime.RecursionLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a missing kiln.toml")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[runtime\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[jit]\ncall-threshold = 7\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.JIT.CallThreshold != 7 {
		t.Errorf("expected the root manifest, got threshold %d", m.JIT.CallThreshold)
	}
}

func TestFindAndLoadFallsBackToDefault(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.JIT.Enabled == nil || !*m.JIT.Enabled {
		t.Error("default manifest enables the jit")
	}
	if m.JIT.CallThreshold != vm.DefaultCallThreshold {
		t.Errorf("default threshold: got %d", m.JIT.CallThreshold)
	}
}

func TestOptionsMapping(t *testing.T) {
	disabled := false
	m := &Manifest{
		Runtime: Runtime{RecursionLimit: 300, Trace: true},
		JIT:     JIT{Enabled: &disabled, CallThreshold: 5, LoopThreshold: 6},
	}
	opts := m.Options()
	if opts.JIT {
		t.Error("jit must be off")
	}
	if opts.CallThreshold != 5 || opts.LoopThreshold != 6 || opts.RecursionLimit != 300 {
		t.Errorf("options: %+v", opts)
	}
	if !opts.Trace {
		t.Error("trace must carry over")
	}

	// A nil Enabled leaves the jit on.
	m.JIT.Enabled = nil
	if !m.Options().JIT {
		t.Error("unset jit.enabled defaults to on")
	}
}
