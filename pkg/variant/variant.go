// Package variant implements the tagged value type carried by every
// context-tree node and every as-value attribute entry.
package variant

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
)

// Type tags the kind of value a Variant holds.
type Type int

// Recognized Variant kinds. TypeInvalid is the zero value.
const (
	TypeInvalid Type = iota
	TypeUsr
	TypeInt
	TypeUint
	TypeString
	TypeAddr
	TypeDouble
	TypeBool
	TypeType
)

// String renders the type tag name, used in logs and table output.
func (t Type) String() string {
	switch t {
	case TypeInvalid:
		return "INV"
	case TypeUsr:
		return "USR"
	case TypeInt:
		return "INT"
	case TypeUint:
		return "UINT"
	case TypeString:
		return "STRING"
	case TypeAddr:
		return "ADDR"
	case TypeDouble:
		return "DOUBLE"
	case TypeBool:
		return "BOOL"
	case TypeType:
		return "TYPE"
	default:
		return "UNKNOWN"
	}
}

// Variant is a sum type over {bool, int64, uint64, double, string, blob, type-id}.
// The zero Variant is TypeInvalid. Equality and hashing are by logical value,
// not by representation.
type Variant struct {
	typ  Type
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
	blob []byte
	tv   Type
}

// Int returns an int64-valued Variant.
func Int(v int64) Variant { return Variant{typ: TypeInt, i: v} }

// Uint returns a uint64-valued Variant.
func Uint(v uint64) Variant { return Variant{typ: TypeUint, u: v} }

// Double returns a float64-valued Variant.
func Double(v float64) Variant { return Variant{typ: TypeDouble, f: v} }

// Bool returns a bool-valued Variant.
func Bool(v bool) Variant { return Variant{typ: TypeBool, b: v} }

// String returns a string-valued Variant. The string is treated as
// non-owning, immutable bytes, same as Caliper's CALI_TYPE_STRING.
func String(v string) Variant { return Variant{typ: TypeString, s: v} }

// Addr returns an address/blob-valued Variant, used for pointer-sized
// opaque values (Caliper's CALI_TYPE_ADDR).
func Addr(v uint64) Variant { return Variant{typ: TypeAddr, u: v} }

// Blob returns a byte-slice-valued Variant (CALI_TYPE_USR payload).
func Blob(v []byte) Variant { return Variant{typ: TypeUsr, blob: v} }

// TypeTag returns a Variant carrying a Type value, used for the tree's
// reserved per-type nodes.
func TypeTag(v Type) Variant { return Variant{typ: TypeType, tv: v} }

// Invalid returns the zero Variant.
func Invalid() Variant { return Variant{} }

// IsValid reports whether v holds any value.
func (v Variant) IsValid() bool { return v.typ != TypeInvalid }

// Type returns the Variant's type tag.
func (v Variant) Type() Type { return v.typ }

// Int64 returns the int64 payload; zero if v is not TypeInt.
func (v Variant) Int64() int64 { return v.i }

// Uint64 returns the uint64 payload; zero if v is not TypeUint/TypeAddr.
func (v Variant) Uint64() uint64 { return v.u }

// Float64 returns the float64 payload; zero if v is not TypeDouble.
func (v Variant) Float64() float64 { return v.f }

// BoolValue returns the bool payload; false if v is not TypeBool.
func (v Variant) BoolValue() bool { return v.b }

// Str returns the string payload; empty if v is not TypeString.
func (v Variant) Str() string { return v.s }

// Bytes returns the blob payload; nil if v is not TypeUsr.
func (v Variant) Bytes() []byte { return v.blob }

// TypeValue returns the Type payload of a TypeType Variant.
func (v Variant) TypeValue() Type { return v.tv }

// Equal reports logical equality: same type tag and same payload.
func (v Variant) Equal(other Variant) bool {
	if v.typ != other.typ {
		return false
	}

	switch v.typ {
	case TypeInvalid:
		return true
	case TypeInt:
		return v.i == other.i
	case TypeUint, TypeAddr:
		return v.u == other.u
	case TypeDouble:
		return v.f == other.f
	case TypeBool:
		return v.b == other.b
	case TypeString:
		return v.s == other.s
	case TypeUsr:
		return string(v.blob) == string(other.blob)
	case TypeType:
		return v.tv == other.tv
	default:
		return false
	}
}

// Hash returns an FNV-1a hash of the logical value, stable across processes
// for a given build (string/blob hashing walks the bytes).
func (v Variant) Hash() uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d:", v.typ)

	switch v.typ {
	case TypeInt:
		_, _ = h.Write(strconv.AppendInt(nil, v.i, 10))
	case TypeUint, TypeAddr:
		_, _ = h.Write(strconv.AppendUint(nil, v.u, 10))
	case TypeDouble:
		_, _ = h.Write(strconv.AppendUint(nil, math.Float64bits(v.f), 10))
	case TypeBool:
		if v.b {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	case TypeString:
		_, _ = h.Write([]byte(v.s))
	case TypeUsr:
		_, _ = h.Write(v.blob)
	case TypeType:
		_, _ = h.Write(strconv.AppendInt(nil, int64(v.tv), 10))
	}

	return h.Sum64()
}

// String renders a human-readable form, used by the table and delta services.
func (v Variant) String() string {
	switch v.typ {
	case TypeInvalid:
		return ""
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeUint:
		return strconv.FormatUint(v.u, 10)
	case TypeAddr:
		return "0x" + strconv.FormatUint(v.u, 16)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	case TypeUsr:
		return fmt.Sprintf("blob(%d bytes)", len(v.blob))
	case TypeType:
		return v.tv.String()
	default:
		return "?"
	}
}
