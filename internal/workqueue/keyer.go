package workqueue

import (
	"errors"

	"github.com/zeebo/xxh3"
)

// Keyer maps items to grouping keys and defines key equality.
//
// Hash and Equal must agree: keys that are Equal must hash identically.
// KeyOf must be stable for the lifetime of an item in the queue; the queue
// never re-indexes an item after Add.
type Keyer[T, K any] interface {
	KeyOf(item T) K
	Hash(key K) uint64
	Equal(a, b K) bool
}

// FuncKeyer builds a Keyer from plain functions. All three must be set;
// New panics otherwise.
type FuncKeyer[T, K any] struct {
	KeyFn   func(T) K
	HashFn  func(K) uint64
	EqualFn func(a, b K) bool
}

func (f FuncKeyer[T, K]) KeyOf(item T) K { return f.KeyFn(item) }

func (f FuncKeyer[T, K]) Hash(key K) uint64 { return f.HashFn(key) }

func (f FuncKeyer[T, K]) Equal(a, b K) bool { return f.EqualFn(a, b) }

func (f FuncKeyer[T, K]) validate() error {
	switch {
	case f.KeyFn == nil:
		return errors.New("FuncKeyer: KeyFn is nil")
	case f.HashFn == nil:
		return errors.New("FuncKeyer: HashFn is nil")
	case f.EqualFn == nil:
		return errors.New("FuncKeyer: EqualFn is nil")
	}
	return nil
}

// stringKeyer keys items by a derived string, hashed with xxh3.
type stringKeyer[T any] struct {
	fn func(T) string
}

func (s stringKeyer[T]) KeyOf(item T) string { return s.fn(item) }

func (stringKeyer[T]) Hash(key string) uint64 { return xxh3.HashString(key) }

func (stringKeyer[T]) Equal(a, b string) bool { return a == b }

// KeyFunc returns a Keyer deriving string keys from items with fn.
// Typical use: keying file tasks by their parent directory.
func KeyFunc[T any](fn func(T) string) Keyer[T, string] {
	return stringKeyer[T]{fn: fn}
}

// Identity returns a Keyer where every string item is its own key.
func Identity() Keyer[string, string] {
	return stringKeyer[string]{fn: func(s string) string { return s }}
}
