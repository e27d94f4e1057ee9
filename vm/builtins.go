package vm

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Builtins are ordinary host functions dispatched by CALL_NATIVE. They
// are outside the translators' scope: any CALL_NATIVE in a candidate
// region makes that region non-compilable.

func registerBuiltins(m *Machine) {
	m.RegisterNative("print", builtinPrint)
	m.RegisterNative("len", builtinLen)
	m.RegisterNative("str", builtinStr)
	m.RegisterNative("push", builtinPush)
	m.RegisterNative("sha256", builtinSha256)
	m.RegisterNative("hmac_sha256", builtinHmacSha256)
	m.RegisterNative("gzip", builtinGzip)
	m.RegisterNative("gunzip", builtinGunzip)
	m.RegisterNative("spawn", builtinSpawn)
}

func wantArgs(name string, args []Value, n int) error {
	if len(args) != n {
		return &RuntimeError{Kind: ErrTypeMismatch, Op: name,
			Detail: fmt.Sprintf("expects %d arguments, got %d", n, len(args))}
	}
	return nil
}

func wantString(name string, v Value) (string, error) {
	if !v.IsString() {
		return "", &RuntimeError{Kind: ErrTypeMismatch, Op: name,
			Detail: "expects string, got " + v.Kind().String()}
	}
	return v.Str(), nil
}

// print writes each argument's display form to stdout, space-separated.
func builtinPrint(m *Machine, args []Value) (Value, error) {
	for i, a := range args {
		if i > 0 {
			fmt.Fprint(os.Stdout, " ")
		}
		fmt.Fprint(os.Stdout, a.String())
	}
	fmt.Fprintln(os.Stdout)
	return None, nil
}

// len returns the length of a string, array or dict.
func builtinLen(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("len", args, 1); err != nil {
		return None, err
	}
	switch args[0].Kind() {
	case KindString:
		return FromInt(int64(len(args[0].Str()))), nil
	case KindArray:
		return FromInt(int64(args[0].Array().Len())), nil
	case KindDict:
		return FromInt(int64(args[0].Dict().Len())), nil
	}
	return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "len",
		Detail: args[0].Kind().String() + " has no length"}
}

// str renders any value in its display form.
func builtinStr(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("str", args, 1); err != nil {
		return None, err
	}
	return FromString(args[0].String()), nil
}

// push appends to an array in place and returns it.
func builtinPush(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("push", args, 2); err != nil {
		return None, err
	}
	if !args[0].IsArray() {
		return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "push",
			Detail: "expects array, got " + args[0].Kind().String()}
	}
	a := args[0].Array()
	if a.shared {
		a = a.clone()
	}
	a.Append(args[1])
	return FromArray(a), nil
}

// sha256 returns the hex digest of a string.
func builtinSha256(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("sha256", args, 1); err != nil {
		return None, err
	}
	s, err := wantString("sha256", args[0])
	if err != nil {
		return None, err
	}
	sum := sha256.Sum256([]byte(s))
	return FromString(hex.EncodeToString(sum[:])), nil
}

// hmac_sha256 returns the hex HMAC-SHA256 of (key, message).
func builtinHmacSha256(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("hmac_sha256", args, 2); err != nil {
		return None, err
	}
	key, err := wantString("hmac_sha256", args[0])
	if err != nil {
		return None, err
	}
	msg, err := wantString("hmac_sha256", args[1])
	if err != nil {
		return None, err
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return FromString(hex.EncodeToString(mac.Sum(nil))), nil
}

// gzip compresses a string; the result is raw bytes carried in a string.
func builtinGzip(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("gzip", args, 1); err != nil {
		return None, err
	}
	s, err := wantString("gzip", args[0])
	if err != nil {
		return None, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return None, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return None, fmt.Errorf("gzip: %w", err)
	}
	return FromString(buf.String()), nil
}

// gunzip decompresses gzip bytes carried in a string.
func builtinGunzip(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("gunzip", args, 1); err != nil {
		return None, err
	}
	s, err := wantString("gunzip", args[0])
	if err != nil {
		return None, err
	}
	zr, err := gzip.NewReader(bytes.NewReader([]byte(s)))
	if err != nil {
		return None, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return None, fmt.Errorf("gunzip: %w", err)
	}
	return FromString(string(out)), nil
}

// spawn runs an external command with a wall-clock timeout in seconds
// and returns {stdout, stderr, code}. The child is killed on expiry;
// an unbounded block is not an option here.
func builtinSpawn(m *Machine, args []Value) (Value, error) {
	if err := wantArgs("spawn", args, 3); err != nil {
		return None, err
	}
	cmd, err := wantString("spawn", args[0])
	if err != nil {
		return None, err
	}
	if !args[1].IsArray() {
		return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "spawn",
			Detail: "argv must be an array"}
	}
	if !args[2].IsInt() {
		return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "spawn",
			Detail: "timeout must be an int (seconds)"}
	}
	argv := make([]string, 0, args[1].Array().Len())
	for _, a := range args[1].Array().elems {
		s, err := wantString("spawn", a)
		if err != nil {
			return None, err
		}
		argv = append(argv, s)
	}
	timeout := time.Duration(args[2].Int()) * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	proc := exec.CommandContext(ctx, cmd, argv...)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	code := 0
	if err := proc.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return None, fmt.Errorf("spawn %s: timed out after %s", cmd, timeout)
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return None, fmt.Errorf("spawn %s: %w", cmd, err)
		}
		code = exitErr.ExitCode()
	}

	d := NewDict()
	d.Set("stdout", FromString(stdout.String()))
	d.Set("stderr", FromString(stderr.String()))
	d.Set("code", FromInt(int64(code)))
	return FromDict(d), nil
}
