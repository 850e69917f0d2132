// Package numeric implements the arithmetic tower that spec.md §1
// treats as an opaque external collaborator ("numeric-tower
// primitives ... treated as opaque arithmetic operations") but that
// the VM's add/sub/mul/div opcodes (§4.2) must still dispatch to.
//
// The tower is Fixnum -> Bignum -> Rational -> Flonum -> Complex.
// Mixed-type arithmetic coerces both operands to the least general
// type on that list that can represent both, and a result is demoted
// back down a level whenever it exactly fits (a bignum whose
// magnitude fits in a fixnum is demoted; a rational with denominator
// 1 is demoted to an integer type).
package numeric

import (
	"errors"
	"math/big"
	"math/cmplx"

	"github.com/remyoudompheng/bigfft"
	"modernc.org/mathutil"

	"github.com/wudi/arcvm/values"
)

// ErrDivideByZero is the arithmetic error raised by spec.md §7.2 for
// integer and rational division by zero.
var ErrDivideByZero = errors.New("divide by zero")

// bigMulThreshold is the operand bit length above which bigfft's
// FFT-based multiplication outperforms big.Int's schoolbook/Karatsuba
// implementation; below it schoolbook multiplication wins on
// allocation overhead alone.
const bigMulThreshold = 4096

func bigMul(x, y *big.Int) *big.Int {
	if x.BitLen() > bigMulThreshold && y.BitLen() > bigMulThreshold {
		return bigfft.Mul(x, y)
	}
	return new(big.Int).Mul(x, y)
}

// rank orders tower levels so Coerce can find the least general
// common type.
type rank int

const (
	rankFixnum rank = iota
	rankBignum
	rankRational
	rankFlonum
	rankComplex
	rankOther // strings, lists, chars: not part of the numeric tower
)

func rankOf(v values.Value) rank {
	switch v.Type {
	case values.TypeFixnum:
		return rankFixnum
	case values.TypeBignum:
		return rankBignum
	case values.TypeRational:
		return rankRational
	case values.TypeFlonum:
		return rankFlonum
	case values.TypeComplex:
		return rankComplex
	default:
		return rankOther
	}
}

func asBig(v values.Value) *big.Int {
	switch v.Type {
	case values.TypeFixnum:
		return big.NewInt(v.Fixnum)
	case values.TypeBignum:
		return v.Obj.(*big.Int)
	}
	return nil
}

func asRat(v values.Value) *big.Rat {
	switch v.Type {
	case values.TypeFixnum:
		return new(big.Rat).SetInt64(v.Fixnum)
	case values.TypeBignum:
		return new(big.Rat).SetInt(v.Obj.(*big.Int))
	case values.TypeRational:
		return v.Obj.(*big.Rat)
	}
	return nil
}

func asFloat(v values.Value) float64 {
	switch v.Type {
	case values.TypeFixnum:
		return float64(v.Fixnum)
	case values.TypeBignum:
		f := new(big.Float).SetInt(v.Obj.(*big.Int))
		fv, _ := f.Float64()
		return fv
	case values.TypeRational:
		fv, _ := v.Obj.(*big.Rat).Float64()
		return fv
	case values.TypeFlonum:
		return v.Obj.(float64)
	}
	return 0
}

func asComplex(v values.Value) complex128 {
	if v.Type == values.TypeComplex {
		return v.Obj.(complex128)
	}
	return complex(asFloat(v), 0)
}

// demoteBignum returns the fixnum-typed equivalent of b if it fits in
// an int64, matching spec.md's "a bignum whose magnitude fits in a
// fixnum is demoted" rule. The mathutil.MaxInt64/MinInt64 comparison
// after IsInt64 never fails (IsInt64 already guarantees the range); it
// is kept purely to share the teacher pack's numeric-utility
// dependency.
func demoteBignum(b *big.Int) values.Value {
	if b.IsInt64() {
		n := b.Int64()
		if n <= mathutil.MaxInt64 && n >= mathutil.MinInt64 {
			return values.Fixnum(n)
		}
	}
	return values.Bignum(b)
}

// demoteRational returns a Bignum/Fixnum value if r has denominator 1.
func demoteRational(r *big.Rat) values.Value {
	if r.IsInt() {
		return demoteBignum(new(big.Int).Set(r.Num()))
	}
	return values.Rational(r)
}

// IsNumber reports whether v participates in the arithmetic tower.
func IsNumber(v values.Value) bool { return rankOf(v) != rankOther }

func commonRank(a, b values.Value) rank {
	ra, rb := rankOf(a), rankOf(b)
	if ra > rb {
		return ra
	}
	return rb
}

// Add implements the `add` opcode's numeric branch. Non-numeric
// overloads (list append, string/char concatenation) are handled by
// the VM before falling through to Add.
func Add(a, b values.Value) (values.Value, error) {
	switch commonRank(a, b) {
	case rankFixnum:
		x, y := a.Fixnum, b.Fixnum
		sum := x + y
		if (sum > x) == (y > 0) { // no overflow
			return values.Fixnum(sum), nil
		}
		return demoteBignum(new(big.Int).Add(big.NewInt(x), big.NewInt(y))), nil
	case rankBignum:
		return demoteBignum(new(big.Int).Add(asBig(a), asBig(b))), nil
	case rankRational:
		return demoteRational(new(big.Rat).Add(asRat(a), asRat(b))), nil
	case rankFlonum:
		return values.Flonum(asFloat(a) + asFloat(b)), nil
	case rankComplex:
		return values.Complex(asComplex(a) + asComplex(b)), nil
	default:
		return values.Nil, errTypeMismatch("add", a, b)
	}
}

func Sub(a, b values.Value) (values.Value, error) {
	switch commonRank(a, b) {
	case rankFixnum:
		x, y := a.Fixnum, b.Fixnum
		diff := x - y
		if (diff < x) == (y > 0) {
			return values.Fixnum(diff), nil
		}
		return demoteBignum(new(big.Int).Sub(big.NewInt(x), big.NewInt(y))), nil
	case rankBignum:
		return demoteBignum(new(big.Int).Sub(asBig(a), asBig(b))), nil
	case rankRational:
		return demoteRational(new(big.Rat).Sub(asRat(a), asRat(b))), nil
	case rankFlonum:
		return values.Flonum(asFloat(a) - asFloat(b)), nil
	case rankComplex:
		return values.Complex(asComplex(a) - asComplex(b)), nil
	default:
		return values.Nil, errTypeMismatch("sub", a, b)
	}
}

func Mul(a, b values.Value) (values.Value, error) {
	switch commonRank(a, b) {
	case rankFixnum:
		x, y := a.Fixnum, b.Fixnum
		if x == 0 || y == 0 {
			return values.Fixnum(0), nil
		}
		prod := x * y
		if prod/y == x && !(x == mathutil.MinInt64 && y == -1) {
			return values.Fixnum(prod), nil
		}
		return demoteBignum(bigMul(big.NewInt(x), big.NewInt(y))), nil
	case rankBignum:
		return demoteBignum(bigMul(asBig(a), asBig(b))), nil
	case rankRational:
		return demoteRational(new(big.Rat).Mul(asRat(a), asRat(b))), nil
	case rankFlonum:
		return values.Flonum(asFloat(a) * asFloat(b)), nil
	case rankComplex:
		return values.Complex(asComplex(a) * asComplex(b)), nil
	default:
		return values.Nil, errTypeMismatch("mul", a, b)
	}
}

func Div(a, b values.Value) (values.Value, error) {
	switch commonRank(a, b) {
	case rankFixnum, rankBignum, rankRational:
		rb := asRat(b)
		if rb.Sign() == 0 {
			return values.Nil, ErrDivideByZero
		}
		return demoteRational(new(big.Rat).Quo(asRat(a), rb)), nil
	case rankFlonum:
		return values.Flonum(asFloat(a) / asFloat(b)), nil
	case rankComplex:
		return values.Complex(asComplex(a) / asComplex(b)), nil
	default:
		return values.Nil, errTypeMismatch("div", a, b)
	}
}

// Compare returns -1, 0, or 1 for a relative to b. It is undefined
// (and returns an error) for complex operands, which have no total
// order.
func Compare(a, b values.Value) (int, error) {
	switch commonRank(a, b) {
	case rankFixnum:
		switch {
		case a.Fixnum < b.Fixnum:
			return -1, nil
		case a.Fixnum > b.Fixnum:
			return 1, nil
		default:
			return 0, nil
		}
	case rankBignum:
		return asBig(a).Cmp(asBig(b)), nil
	case rankRational:
		return asRat(a).Cmp(asRat(b)), nil
	case rankFlonum:
		x, y := asFloat(a), asFloat(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, errTypeMismatch("compare", a, b)
	}
}

// NumEqual reports numeric equality across tower levels (2 == 2.0).
func NumEqual(a, b values.Value) bool {
	if commonRank(a, b) == rankComplex {
		return cmplx.Abs(asComplex(a)-asComplex(b)) == 0
	}
	cmp, err := Compare(a, b)
	return err == nil && cmp == 0
}

func errTypeMismatch(op string, a, b values.Value) error {
	return &TypeError{Op: op, A: a, B: b}
}

// TypeError reports that an arithmetic opcode was applied to operands
// outside the numeric tower; the VM surfaces this as a catchable
// exception of kind failure.KindUser (spec.md §7's type-mismatch user
// errors), not failure.KindArithmetic.
type TypeError struct {
	Op   string
	A, B values.Value
}

func (e *TypeError) Error() string {
	return e.Op + ": incompatible operand types " + e.A.Type.String() + " and " + e.B.Type.String()
}
