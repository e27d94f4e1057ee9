package vm

import (
	"sort"
	"strconv"
)

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// Array is the ordered mutable container. Arrays follow copy semantics
// across whole-variable loads and stores: loading a slot marks the array
// shared, and the first structural write through any shared handle clones
// it first. The in-place opcodes mutate a local slot's array directly and
// never set the shared flag, which is what keeps them amortized O(1).
type Array struct {
	shared bool
	elems  []Value
}

// NewArray creates an empty array with room for n elements.
func NewArray(n int) *Array {
	return &Array{elems: make([]Value, 0, n)}
}

// NewArrayWith creates an array owning the given elements.
func NewArrayWith(elems []Value) *Array {
	return &Array{elems: elems}
}

// Len returns the element count.
func (a *Array) Len() int { return len(a.elems) }

// Get returns the element at index i.
func (a *Array) Get(i int64) (Value, error) {
	if i < 0 || i >= int64(len(a.elems)) {
		return None, indexOutOfRange(i, len(a.elems))
	}
	return shareValue(a.elems[i]), nil
}

// Set writes the element at index i in place. The caller is responsible
// for cloning first if the array is shared.
func (a *Array) Set(i int64, v Value) error {
	if i < 0 || i >= int64(len(a.elems)) {
		return indexOutOfRange(i, len(a.elems))
	}
	a.elems[i] = v
	return nil
}

// Append grows the array by one element in place.
func (a *Array) Append(v Value) {
	a.elems = append(a.elems, v)
}

// clone returns an unshared shallow copy.
func (a *Array) clone() *Array {
	elems := make([]Value, len(a.elems))
	copy(elems, a.elems)
	return &Array{elems: elems}
}

// Dict is the string-keyed mutable container. Same ownership discipline
// as Array. Integer keys are coerced to their canonical decimal form
// before every lookup or store, on both execution tiers.
type Dict struct {
	shared  bool
	entries map[string]Value
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{entries: make(map[string]Value)}
}

// Len returns the entry count.
func (d *Dict) Len() int { return len(d.entries) }

// Get returns the entry for a coerced key.
func (d *Dict) Get(key string) (Value, error) {
	v, ok := d.entries[key]
	if !ok {
		return None, &RuntimeError{Kind: ErrIndexOutOfRange, Op: "index", Detail: "no such key: " + key}
	}
	return shareValue(v), nil
}

// Set writes an entry in place. The caller clones first if shared.
func (d *Dict) Set(key string, v Value) {
	d.entries[key] = v
}

// clone returns an unshared shallow copy.
func (d *Dict) clone() *Dict {
	entries := make(map[string]Value, len(d.entries))
	for k, v := range d.entries {
		entries[k] = v
	}
	return &Dict{entries: entries}
}

func (d *Dict) sortedKeys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// coerceKey maps a dict index value to its canonical string key.
// Integer keys coerce to their decimal form, so d[5] and d["5"] address
// the same entry. The coercion is deterministic and shared by the
// interpreter and compiled code.
func coerceKey(v Value) (string, error) {
	switch v.Kind() {
	case KindString:
		return v.Str(), nil
	case KindInt:
		return strconv.FormatInt(v.Int(), 10), nil
	}
	return "", &RuntimeError{Kind: ErrTypeMismatch, Op: "index", Detail: "dict key must be string or int, got " + v.Kind().String()}
}

// shareValue marks a container value as aliased and returns it. Every
// operation that creates a second live handle to the same container
// (slot load, slot store, dup, element read, argument copy) goes through
// this, so a later structural write knows it must clone.
func shareValue(v Value) Value {
	switch v.kind {
	case KindArray:
		v.arr.shared = true
	case KindDict:
		v.dict.shared = true
	}
	return v
}

// containerGet performs the generic indexed read. obj may be an array
// (integer index) or a dict (string or int key).
func containerGet(obj, idx Value) (Value, error) {
	switch obj.Kind() {
	case KindArray:
		if idx.Kind() != KindInt {
			return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "index", Detail: "array index must be int, got " + idx.Kind().String()}
		}
		return obj.Array().Get(idx.Int())
	case KindDict:
		key, err := coerceKey(idx)
		if err != nil {
			return None, err
		}
		return obj.Dict().Get(key)
	}
	return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "index", Detail: obj.Kind().String() + " is not indexable"}
}

// containerSet performs the generic indexed write with copy semantics:
// a shared container is cloned before mutation and the (possibly new)
// container value is returned for the caller to push or store.
func containerSet(obj, idx, val Value) (Value, error) {
	switch obj.Kind() {
	case KindArray:
		if idx.Kind() != KindInt {
			return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "index", Detail: "array index must be int, got " + idx.Kind().String()}
		}
		a := obj.Array()
		if a.shared {
			a = a.clone()
		}
		if err := a.Set(idx.Int(), val); err != nil {
			return None, err
		}
		return FromArray(a), nil
	case KindDict:
		key, err := coerceKey(idx)
		if err != nil {
			return None, err
		}
		d := obj.Dict()
		if d.shared {
			d = d.clone()
		}
		d.Set(key, val)
		return FromDict(d), nil
	}
	return None, &RuntimeError{Kind: ErrTypeMismatch, Op: "index", Detail: obj.Kind().String() + " is not indexable"}
}
