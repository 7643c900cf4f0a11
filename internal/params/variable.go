// Package params holds the per-peer, per-channel parameter store. The binary
// encoding of each parameter is the single source of truth; decoded Variable
// views are derived on demand and never stored.
package params

import (
	"encoding/binary"
	"strconv"
)

// Type enumerates the value types a parameter can carry.
type Type int

const (
	TypeString Type = iota
	TypeInteger
	TypeBoolean
)

// ParseType maps a profile type name to a Type. Unknown names decode as
// strings, which is the lossless fallback.
func ParseType(name string) Type {
	switch name {
	case "integer":
		return TypeInteger
	case "boolean":
		return TypeBoolean
	default:
		return TypeString
	}
}

// Variable is a decoded parameter value view.
type Variable struct {
	Type Type
	Str  string
	Int  int
	Bool bool
}

// String returns the textual form used on the wire.
func (v Variable) String() string {
	switch v.Type {
	case TypeInteger:
		return strconv.Itoa(v.Int)
	case TypeBoolean:
		if v.Bool {
			return "1"
		}
		return "0"
	default:
		return v.Str
	}
}

// Codec converts between the textual SOAP form and the canonical binary
// encoding of one parameter type.
type Codec struct {
	Type Type
}

// Encode converts a textual SOAP value into its canonical binary form.
// Unparseable numbers and booleans encode as zero values, matching how the
// devices themselves treat junk input.
func (c Codec) Encode(text string) []byte {
	switch c.Type {
	case TypeInteger:
		n, _ := strconv.Atoi(text)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(n)))
		return buf
	case TypeBoolean:
		if text == "1" || text == "true" {
			return []byte{1}
		}
		return []byte{0}
	default:
		return []byte(text)
	}
}

// Decode converts a canonical binary value back into a Variable. Empty data
// decodes to the type's zero value.
func (c Codec) Decode(data []byte) Variable {
	switch c.Type {
	case TypeInteger:
		v := Variable{Type: TypeInteger}
		if len(data) == 4 {
			v.Int = int(int32(binary.BigEndian.Uint32(data)))
		}
		return v
	case TypeBoolean:
		v := Variable{Type: TypeBoolean}
		if len(data) == 1 {
			v.Bool = data[0] != 0
		}
		return v
	default:
		return Variable{Type: TypeString, Str: string(data)}
	}
}

// EncodeVariable renders a Variable into the canonical binary form.
func (c Codec) EncodeVariable(v Variable) []byte {
	return c.Encode(v.String())
}
