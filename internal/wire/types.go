package wire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// PgType is one of the PostgreSQL data types this server understands on
// the wire. The zero value is not a valid PgType; always obtain one from
// a literal constant or FromOID.
type PgType int

const (
	PgBool PgType = iota + 1
	PgChar
	PgVarChar
	PgSmallInt
	PgInteger
	PgBigInt
)

// TypeOID returns the PostgreSQL OID for t.
func (t PgType) TypeOID() uint32 {
	switch t {
	case PgBool:
		return 16
	case PgChar:
		return 18
	case PgBigInt:
		return 20
	case PgSmallInt:
		return 21
	case PgInteger:
		return 23
	case PgVarChar:
		return 1043
	default:
		return 0
	}
}

// TypeLen returns the fixed on-wire length of t, or -1 for variable
// length types.
func (t PgType) TypeLen() int16 {
	switch t {
	case PgBool, PgChar:
		return 1
	case PgSmallInt:
		return 2
	case PgInteger:
		return 4
	case PgBigInt:
		return 8
	case PgVarChar:
		return -1
	default:
		return -1
	}
}

// String renders t the way the reference server reports a type name in
// diagnostics.
func (t PgType) String() string {
	switch t {
	case PgBool:
		return "boolean"
	case PgChar:
		return "character"
	case PgVarChar:
		return "variable character"
	case PgSmallInt:
		return "smallint"
	case PgInteger:
		return "integer"
	case PgBigInt:
		return "bigint"
	default:
		return "unknown"
	}
}

// FromOID returns the PgType whose TypeOID matches oid. OID 0 denotes
// "unspecified parameter type" and is reported via ok=false with a nil
// error; any other unrecognized OID is a NotSupportedOidError.
func FromOID(oid uint32) (PgType, bool, error) {
	if oid == 0 {
		return 0, false, nil
	}
	switch oid {
	case 16:
		return PgBool, true, nil
	case 18:
		return PgChar, true, nil
	case 20:
		return PgBigInt, true, nil
	case 21:
		return PgSmallInt, true, nil
	case 23:
		return PgInteger, true, nil
	case 1043:
		return PgVarChar, true, nil
	default:
		return 0, false, &NotSupportedOidError{OID: oid}
	}
}

// PgFormat selects the text or binary wire representation of a value.
type PgFormat int16

const (
	FormatText   PgFormat = 0
	FormatBinary PgFormat = 1
)

// ParseFormat validates a raw i16 format code off the wire.
func ParseFormat(code int16) (PgFormat, error) {
	switch code {
	case int16(FormatText):
		return FormatText, nil
	case int16(FormatBinary):
		return FormatBinary, nil
	default:
		return 0, &MessageFormatError{Kind: MessageFormatUnrecognizedFormat, Format: code}
	}
}

// ValueKind discriminates the Value sum type.
type ValueKind int

const (
	ValueKindNull ValueKind = iota
	ValueKindBool
	ValueKindInt16
	ValueKindInt32
	ValueKindInt64
	ValueKindString
)

// Value is a decoded PostgreSQL datum. Exactly one of the typed fields is
// meaningful, selected by Kind; Go has no native sum type, so this is the
// idiomatic tagged-struct stand-in.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int16 int16
	Int32 int32
	Int64 int64
	Str   string
}

// NullValue constructs the SQL NULL value.
func NullValue() Value { return Value{Kind: ValueKindNull} }

// BoolValue constructs a boolean value.
func BoolValue(b bool) Value { return Value{Kind: ValueKindBool, Bool: b} }

// Int16Value constructs a smallint value.
func Int16Value(v int16) Value { return Value{Kind: ValueKindInt16, Int16: v} }

// Int32Value constructs an integer value.
func Int32Value(v int32) Value { return Value{Kind: ValueKindInt32, Int32: v} }

// Int64Value constructs a bigint value.
func Int64Value(v int64) Value { return Value{Kind: ValueKindInt64, Int64: v} }

// StringValue constructs a char/varchar value.
func StringValue(s string) Value { return Value{Kind: ValueKindString, Str: s} }

var truthyText = map[string]bool{
	"t": true, "tr": true, "tru": true, "true": true,
	"y": true, "ye": true, "yes": true, "on": true, "1": true,
}

var falsyText = map[string]bool{
	"f": true, "fa": true, "fal": true, "fals": true, "false": true,
	"n": true, "no": true, "of": true, "off": true, "0": true,
}

// Decode decodes raw wire bytes of the given format into a Value of type
// t. Binary decoding follows PostgreSQL's binary protocol conventions
// (int16 is sign-extended to int32 on the wire); text decoding trims
// whitespace before parsing numeric and boolean literals.
func (t PgType) Decode(format PgFormat, raw []byte) (Value, error) {
	if format == FormatBinary {
		return t.decodeBinary(raw)
	}
	return t.decodeText(raw)
}

func (t PgType) decodeBinary(raw []byte) (Value, error) {
	cur := NewCursor(raw)
	switch t {
	case PgBool:
		b, err := cur.ReadByte()
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueNotEnoughBytes, Type: t, Bytes: 1}
		}
		return BoolValue(b != 0), nil
	case PgChar, PgVarChar:
		if !utf8.Valid(raw) {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotDecodeString, Type: t, Source: fmtSource(raw)}
		}
		return StringValue(string(raw)), nil
	case PgSmallInt:
		v, err := cur.ReadI32()
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueNotEnoughBytes, Type: t, Bytes: 4}
		}
		return Int16Value(int16(v)), nil
	case PgInteger:
		v, err := cur.ReadI32()
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueNotEnoughBytes, Type: t, Bytes: 4}
		}
		return Int32Value(v), nil
	case PgBigInt:
		v, err := cur.ReadI64()
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueNotEnoughBytes, Type: t, Bytes: 8}
		}
		return Int64Value(v), nil
	default:
		return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotDecodeString, Type: t}
	}
}

func (t PgType) decodeText(raw []byte) (Value, error) {
	if !utf8.Valid(raw) {
		return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotDecodeString, Type: t, Source: fmtSource(raw)}
	}
	s := string(raw)
	switch t {
	case PgBool:
		trimmed := strings.ToLower(strings.TrimSpace(s))
		switch {
		case truthyText[trimmed]:
			return BoolValue(true), nil
		case falsyText[trimmed]:
			return BoolValue(false), nil
		default:
			return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotParseBool, Source: s}
		}
	case PgChar, PgVarChar:
		return StringValue(s), nil
	case PgSmallInt:
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 16)
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotParseInt, Type: t, Source: s}
		}
		return Int16Value(int16(v)), nil
	case PgInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotParseInt, Type: t, Source: s}
		}
		return Int32Value(int32(v)), nil
	case PgBigInt:
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotParseInt, Type: t, Source: s}
		}
		return Int64Value(v), nil
	default:
		return Value{}, &TypeValueDecodeError{Kind: TypeValueCannotDecodeString, Type: t, Source: s}
	}
}
