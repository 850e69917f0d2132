// Package values implements the tagged-word value representation of
// spec.md §3: a machine word is either an immediate (small integer or
// one of a handful of singleton constants) or a pointer to a heap
// object carrying a type tag and a type-specific payload.
package values

import (
	"fmt"
	"math/big"
)

// Type identifies what a Value holds, whether immediate or heap.
type Type byte

const (
	TypeNil Type = iota
	TypeTrue
	TypeUnbound
	TypeFixnum
	TypeSymbol
	TypeCons
	TypeVector
	TypeString
	TypeCode
	TypeClosure
	TypeCFunctionSync
	TypeCFunctionResumable
	TypeHeapEnv
	TypeContinuation
	TypeExtContinuation
	TypeException
	TypeThread
	TypeBignum
	TypeRational
	TypeFlonum
	TypeComplex
	TypeChar
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeTrue:
		return "true"
	case TypeUnbound:
		return "unbound"
	case TypeFixnum:
		return "fixnum"
	case TypeSymbol:
		return "symbol"
	case TypeCons:
		return "cons"
	case TypeVector:
		return "vector"
	case TypeString:
		return "string"
	case TypeCode:
		return "code"
	case TypeClosure:
		return "closure"
	case TypeCFunctionSync:
		return "cfunction"
	case TypeCFunctionResumable:
		return "rfunction"
	case TypeHeapEnv:
		return "env"
	case TypeContinuation:
		return "continuation"
	case TypeExtContinuation:
		return "ext-continuation"
	case TypeException:
		return "exception"
	case TypeThread:
		return "thread"
	case TypeBignum:
		return "bignum"
	case TypeRational:
		return "rational"
	case TypeFlonum:
		return "flonum"
	case TypeComplex:
		return "complex"
	case TypeChar:
		return "char"
	default:
		return "unknown"
	}
}

// Value is the tagged machine word. Immediates (TypeNil, TypeTrue,
// TypeUnbound, TypeFixnum, TypeSymbol, TypeChar) carry their payload
// directly in Fixnum/Sym (a Char keeps its code point in Fixnum);
// everything else points at a heap object via Obj.
//
// This is an enum-with-payload rendering of spec.md §9's tagged
// pointer scheme, chosen over low-bit tagging or NaN-boxing because it
// needs no unsafe code to stay O(1) distinguishable, at a modest
// boxing cost the spec explicitly allows.
type Value struct {
	Type   Type
	Fixnum int64 // valid when Type == TypeFixnum
	Sym    int32 // valid when Type == TypeSymbol (interned id)
	Obj    any   // valid for all heap types
}

var (
	Nil     = Value{Type: TypeNil}
	True    = Value{Type: TypeTrue}
	Unbound = Value{Type: TypeUnbound}
)

func Fixnum(n int64) Value { return Value{Type: TypeFixnum, Fixnum: n} }
func Sym(id int32) Value   { return Value{Type: TypeSymbol, Sym: id} }
func Char(r rune) Value    { return Value{Type: TypeChar, Fixnum: int64(r)} }

func Bignum(b *big.Int) Value     { return Value{Type: TypeBignum, Obj: b} }
func Rational(r *big.Rat) Value   { return Value{Type: TypeRational, Obj: r} }
func Flonum(f float64) Value      { return Value{Type: TypeFlonum, Obj: f} }
func Complex(c complex128) Value  { return Value{Type: TypeComplex, Obj: c} }
func Str(s *String) Value         { return Value{Type: TypeString, Obj: s} }
func ConsVal(c *Cons) Value       { return Value{Type: TypeCons, Obj: c} }
func VectorVal(v *Vector) Value   { return Value{Type: TypeVector, Obj: v} }

// Bool converts a native predicate into nil/true per spec.md §4.2:
// only nil is false.
func Bool(b bool) Value {
	if b {
		return True
	}
	return Nil
}

// Truthy implements spec.md's truthiness rule: everything but nil is
// true, including 0 and the empty string.
func Truthy(v Value) bool { return v.Type != TypeNil }

// Is implements identity comparison ("is"): immediates compare by
// value, heap objects by pointer identity.
func Is(a, b Value) bool {
	if a.Type != b.Type {
		// A demoted bignum is indistinguishable from the equivalent
		// fixnum by `is` (spec.md §8); cross-check that case.
		if a.Type == TypeFixnum && b.Type == TypeBignum {
			return bignumEqualsFixnum(b, a.Fixnum)
		}
		if a.Type == TypeBignum && b.Type == TypeFixnum {
			return bignumEqualsFixnum(a, b.Fixnum)
		}
		return false
	}
	switch a.Type {
	case TypeNil, TypeTrue, TypeUnbound:
		return true
	case TypeFixnum, TypeChar:
		return a.Fixnum == b.Fixnum
	case TypeSymbol:
		return a.Sym == b.Sym
	default:
		return a.Obj == b.Obj
	}
}

func bignumEqualsFixnum(bignum Value, fx int64) bool {
	b, ok := bignum.Obj.(*big.Int)
	if !ok {
		return false
	}
	return b.IsInt64() && b.Int64() == fx
}

// Heap object payloads (spec.md §3 table).

type Cons struct {
	Car, Cdr Value
}

type Vector struct {
	Slots []Value
}

// String is a Unicode-capable sequence of code points, stored as
// runes so that indexing is O(1) the way the spec's Symbol/String
// split implies (unlike a raw UTF-8 byte slice).
type String struct {
	Runes []rune
}

func NewString(s string) *String { return &String{Runes: []rune(s)} }
func (s *String) String() string { return string(s.Runes) }

// TypeOf returns a human-readable type name, backing the
// `type(v)` invariant of spec.md §8.
func TypeOf(v Value) string { return v.Type.String() }

func (v Value) String() string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeTrue:
		return "true"
	case TypeUnbound:
		return "#unbound"
	case TypeFixnum:
		return fmt.Sprintf("%d", v.Fixnum)
	case TypeChar:
		return fmt.Sprintf("#\\%c", rune(v.Fixnum))
	case TypeSymbol:
		return fmt.Sprintf("sym#%d", v.Sym)
	case TypeString:
		if s, ok := v.Obj.(*String); ok {
			return fmt.Sprintf("%q", s.String())
		}
	case TypeBignum:
		if b, ok := v.Obj.(*big.Int); ok {
			return b.String()
		}
	case TypeFlonum:
		if f, ok := v.Obj.(float64); ok {
			return fmt.Sprintf("%g", f)
		}
	}
	return fmt.Sprintf("#<%s>", v.Type)
}
