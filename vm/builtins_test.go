package vm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

func callBuiltin(t *testing.T, name string, args ...Value) Value {
	t.Helper()
	m := interpOnly()
	result, err := m.callNative(name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return result
}

func TestBuiltinLen(t *testing.T) {
	if got := callBuiltin(t, "len", FromString("hello")); got.Int() != 5 {
		t.Errorf("len of string: got %s", got)
	}
	arr := NewArrayWith([]Value{FromInt(1), FromInt(2)})
	if got := callBuiltin(t, "len", FromArray(arr)); got.Int() != 2 {
		t.Errorf("len of array: got %s", got)
	}
	d := NewDict()
	d.Set("a", FromInt(1))
	if got := callBuiltin(t, "len", FromDict(d)); got.Int() != 1 {
		t.Errorf("len of dict: got %s", got)
	}
	m := interpOnly()
	if _, err := m.callNative("len", []Value{FromInt(3)}); err == nil {
		t.Error("len of int must fail")
	}
}

func TestBuiltinStr(t *testing.T) {
	if got := callBuiltin(t, "str", FromInt(42)); got.Str() != "42" {
		t.Errorf("str(42): got %q", got.Str())
	}
	if got := callBuiltin(t, "str", None); got.Str() != "none" {
		t.Errorf("str(none): got %q", got.Str())
	}
	if got := callBuiltin(t, "str", FromBool(true)); got.Str() != "true" {
		t.Errorf("str(true): got %q", got.Str())
	}
}

func TestBuiltinPush(t *testing.T) {
	arr := NewArrayWith([]Value{FromInt(1)})
	result := callBuiltin(t, "push", FromArray(arr), FromInt(2))
	if result.Array().Len() != 2 {
		t.Fatalf("push result length: got %d", result.Array().Len())
	}

	// Pushing through a shared handle clones; the original is untouched.
	shared := shareValue(FromArray(arr))
	grown := callBuiltin(t, "push", shared, FromInt(3))
	if grown.Array() == arr {
		t.Error("push on a shared array must clone")
	}
	if arr.Len() != 2 {
		t.Errorf("original length after shared push: got %d", arr.Len())
	}
}

func TestBuiltinSha256(t *testing.T) {
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := callBuiltin(t, "sha256", FromString("abc")); got.Str() != want {
		t.Errorf("sha256(abc): got %q", got.Str())
	}
}

func TestBuiltinHmacSha256(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write([]byte("message"))
	want := hex.EncodeToString(mac.Sum(nil))
	got := callBuiltin(t, "hmac_sha256", FromString("key"), FromString("message"))
	if got.Str() != want {
		t.Errorf("hmac_sha256: got %q, want %q", got.Str(), want)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	plain := strings.Repeat("kiln compresses well ", 50)
	packed := callBuiltin(t, "gzip", FromString(plain))
	if len(packed.Str()) >= len(plain) {
		t.Errorf("repetitive input should shrink: %d -> %d", len(plain), len(packed.Str()))
	}
	unpacked := callBuiltin(t, "gunzip", packed)
	if unpacked.Str() != plain {
		t.Error("round trip must recover the input")
	}

	m := interpOnly()
	if _, err := m.callNative("gunzip", []Value{FromString("not gzip")}); err == nil {
		t.Error("gunzip of garbage must fail")
	}
}

func TestSpawn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	argv := NewArrayWith([]Value{FromString("-c"), FromString("echo out; echo err >&2; exit 3")})
	result := callBuiltin(t, "spawn", FromString("sh"), FromArray(argv), FromInt(5))
	if !result.IsDict() {
		t.Fatalf("spawn result: expected dict, got %s", result.Kind())
	}
	d := result.Dict()
	if out, _ := d.Get("stdout"); strings.TrimSpace(out.Str()) != "out" {
		t.Errorf("stdout: got %q", out.Str())
	}
	if errOut, _ := d.Get("stderr"); strings.TrimSpace(errOut.Str()) != "err" {
		t.Errorf("stderr: got %q", errOut.Str())
	}
	if code, _ := d.Get("code"); code.Int() != 3 {
		t.Errorf("exit code: got %s", code)
	}
}

func TestSpawnTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	m := interpOnly()
	argv := NewArrayWith([]Value{FromString("5")})
	_, err := m.callNative("spawn", []Value{FromString("sleep"), FromArray(argv), FromInt(1)})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error should mention the timeout: %v", err)
	}
}

func TestBuiltinArgCountErrors(t *testing.T) {
	m := interpOnly()
	for _, tc := range []struct {
		name string
		args []Value
	}{
		{"len", nil},
		{"sha256", []Value{FromString("a"), FromString("b")}},
		{"hmac_sha256", []Value{FromString("k")}},
		{"push", []Value{FromInt(1)}},
	} {
		if _, err := m.callNative(tc.name, tc.args); err == nil {
			t.Errorf("%s with %d args must fail", tc.name, len(tc.args))
		}
	}
}
