package smax

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type is the primitive type tag attached to every stored variable.
type Type int

const (
	TypeUnknown Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeChar
	TypeString
	TypeRaw
	TypeStruct
)

// MaxDims is the maximum number of dimensions a shape may carry.
const MaxDims = 20

// MaxElements bounds the total element count of any single stored value.
// Requests exceeding it fail with ErrSizeInvalid.
const MaxElements = 1 << 20

// OriginLen is the maximum byte length of the "origin" metadata field.
const OriginLen = 80

var typeNames = map[Type]string{
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
	TypeBool:    "bool",
	TypeChar:    "char",
	TypeString:  "string",
	TypeRaw:     "raw",
	TypeStruct:  "struct",
}

var nameTypes = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

var charTypeRE = regexp.MustCompile(`^char(\d*)$`)

// FormatType renders a type tag to the textual form stored in the <types>
// hash. For TypeChar, length is the fixed element length and is bundled
// into the type string itself (e.g. "char64"), matching the original
// SMA-X C library's convention of carrying the element size in the type.
func FormatType(t Type, length int) string {
	if t == TypeChar {
		if length <= 0 {
			return "char"
		}
		return fmt.Sprintf("char%d", length)
	}
	return t.String()
}

// ParseType parses a type string, returning the fixed element length for
// TypeChar (0 for every other type, or when no length was encoded).
func ParseType(s string) (Type, int, error) {
	if m := charTypeRE.FindStringSubmatch(s); m != nil {
		length := 0
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return TypeUnknown, 0, newError("ParseType", KindParse, err)
			}
			length = n
		}
		return TypeChar, length, nil
	}
	t, ok := nameTypes[s]
	if !ok {
		return TypeUnknown, 0, newError("ParseType", KindParse, fmt.Errorf("unrecognized type %q", s))
	}
	return t, 0, nil
}

// Shape describes the dimensionality of a stored value: 0..MaxDims sizes,
// one per dimension. A scalar has an empty (or single-element, value 1)
// Dims slice.
type Shape struct {
	Dims []int
}

// ScalarShape is the shape of a scalar value.
func ScalarShape() Shape { return Shape{Dims: []int{1}} }

// Count returns the total element count implied by the shape.
func (s Shape) Count() int {
	if len(s.Dims) == 0 {
		return 1
	}
	n := 1
	for _, d := range s.Dims {
		n *= d
	}
	return n
}

// String renders the shape in the space-separated wire form.
func (s Shape) String() string {
	if len(s.Dims) == 0 {
		return "1"
	}
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, " ")
}

// ParseShape parses the space-separated dimension-size list stored in the
// <dims> hash. A total element count beyond MaxElements, a dimension count
// beyond MaxDims, or any zero-or-negative dimension size is ErrSizeInvalid.
func ParseShape(s string) (Shape, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Shape{}, newError("ParseShape", KindSizeInvalid, fmt.Errorf("empty shape"))
	}
	fields := strings.Fields(s)
	if len(fields) > MaxDims {
		return Shape{}, newError("ParseShape", KindSizeInvalid, fmt.Errorf("%d dims exceeds MaxDims", len(fields)))
	}
	dims := make([]int, len(fields))
	total := 1
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Shape{}, newError("ParseShape", KindParse, err)
		}
		if n <= 0 {
			return Shape{}, newError("ParseShape", KindSizeInvalid, fmt.Errorf("dimension %d has non-positive size %d", i, n))
		}
		dims[i] = n
		total *= n
	}
	if total > MaxElements {
		return Shape{}, newError("ParseShape", KindSizeInvalid, fmt.Errorf("%d elements exceeds MaxElements", total))
	}
	return Shape{Dims: dims}, nil
}

// Timestamp is a wire-level "<seconds>.<fractional-seconds>" value.
type Timestamp struct {
	Sec  int64
	Nsec int32
}

// Time converts to a standard library time.Time in UTC.
func (ts Timestamp) Time() time.Time { return time.Unix(ts.Sec, int64(ts.Nsec)).UTC() }

// TimestampFromTime builds a Timestamp from a time.Time.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

// String renders the timestamp in "<sec>.<9-digit-nsec>" wire form.
func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}

// ParseTimestamp parses the wire timestamp form, tolerating a missing
// fractional part.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, newError("ParseTimestamp", KindParse, fmt.Errorf("empty timestamp"))
	}
	dot := strings.IndexByte(s, '.')
	secPart := s
	fracPart := ""
	if dot >= 0 {
		secPart = s[:dot]
		fracPart = s[dot+1:]
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return Timestamp{}, newError("ParseTimestamp", KindParse, err)
	}
	if fracPart == "" {
		return Timestamp{Sec: sec}, nil
	}
	// Pad/truncate to 9 digits (nanosecond precision) regardless of how many
	// fractional digits were actually written.
	for len(fracPart) < 9 {
		fracPart += "0"
	}
	fracPart = fracPart[:9]
	nsec, err := strconv.ParseInt(fracPart, 10, 32)
	if err != nil {
		return Timestamp{}, newError("ParseTimestamp", KindParse, err)
	}
	return Timestamp{Sec: sec, Nsec: int32(nsec)}, nil
}

// Value is the Codec's tagged-union representation of a stored variable's
// native value, decoupled from how it is later copied into a caller-typed
// destination.
type Value struct {
	Type  Type
	Shape Shape
	// Data holds the Go-native decoded form:
	//   TypeInt8/16/32/64    -> []int64
	//   TypeFloat32/64       -> []float64
	//   TypeBool             -> []bool
	//   TypeChar, TypeString -> []string
	//   TypeRaw              -> []byte
	//   TypeStruct           -> aggregated id string (see struct.go)
	Data any
}

// EncodeValue renders v to the textual wire form stored in a hash field.
func EncodeValue(v Value) (string, error) {
	switch v.Type {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		xs, ok := v.Data.([]int64)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []int64 for %s", v.Type))
		}
		toks := make([]string, len(xs))
		for i, x := range xs {
			toks[i] = strconv.FormatInt(x, 10)
		}
		return strings.Join(toks, " "), nil
	case TypeFloat32:
		xs, ok := v.Data.([]float64)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []float64 for %s", v.Type))
		}
		toks := make([]string, len(xs))
		for i, x := range xs {
			toks[i] = strconv.FormatFloat(x, 'g', -1, 32)
		}
		return strings.Join(toks, " "), nil
	case TypeFloat64:
		xs, ok := v.Data.([]float64)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []float64 for %s", v.Type))
		}
		toks := make([]string, len(xs))
		for i, x := range xs {
			toks[i] = strconv.FormatFloat(x, 'g', -1, 64)
		}
		return strings.Join(toks, " "), nil
	case TypeBool:
		xs, ok := v.Data.([]bool)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []bool for %s", v.Type))
		}
		toks := make([]string, len(xs))
		for i, x := range xs {
			if x {
				toks[i] = "1"
			} else {
				toks[i] = "0"
			}
		}
		return strings.Join(toks, " "), nil
	case TypeChar, TypeString:
		xs, ok := v.Data.([]string)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []string for %s", v.Type))
		}
		return strings.Join(xs, "\r"), nil
	case TypeRaw:
		b, ok := v.Data.([]byte)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected []byte for %s", v.Type))
		}
		return string(b), nil
	case TypeStruct:
		id, ok := v.Data.(string)
		if !ok {
			return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("expected string id for struct"))
		}
		return id, nil
	default:
		return "", newError("EncodeValue", KindTypeMismatch, fmt.Errorf("unsupported type %s", v.Type))
	}
}

// DecodeValue parses the textual wire form of a hash field into a Value of
// the requested type and shape, truncating or padding TypeChar segments to
// charLen (ignored for every other type).
func DecodeValue(t Type, shape Shape, charLen int, raw string) (Value, error) {
	count := shape.Count()
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		toks := splitTokens(raw)
		xs := make([]int64, 0, len(toks))
		for _, tok := range toks {
			n, err := parseIntToken(tok)
			if err != nil {
				return Value{}, newError("DecodeValue", KindParse, err)
			}
			xs = append(xs, n)
		}
		if err := checkCount(len(xs), count); err != nil {
			return Value{}, err
		}
		return Value{Type: t, Shape: shape, Data: xs}, nil
	case TypeFloat32, TypeFloat64:
		toks := splitTokens(raw)
		xs := make([]float64, 0, len(toks))
		bits := 64
		if t == TypeFloat32 {
			bits = 32
		}
		for _, tok := range toks {
			f, err := strconv.ParseFloat(tok, bits)
			if err != nil {
				return Value{}, newError("DecodeValue", KindParse, err)
			}
			xs = append(xs, f)
		}
		if err := checkCount(len(xs), count); err != nil {
			return Value{}, err
		}
		return Value{Type: t, Shape: shape, Data: xs}, nil
	case TypeBool:
		toks := splitTokens(raw)
		xs := make([]bool, 0, len(toks))
		for _, tok := range toks {
			switch tok {
			case "0":
				xs = append(xs, false)
			case "1":
				xs = append(xs, true)
			default:
				return Value{}, newError("DecodeValue", KindParse, fmt.Errorf("invalid bool token %q", tok))
			}
		}
		if err := checkCount(len(xs), count); err != nil {
			return Value{}, err
		}
		return Value{Type: t, Shape: shape, Data: xs}, nil
	case TypeString:
		xs := splitSegments(raw)
		if err := checkCount(len(xs), count); err != nil {
			return Value{}, err
		}
		return Value{Type: t, Shape: shape, Data: xs}, nil
	case TypeChar:
		xs := splitSegments(raw)
		if charLen > 0 {
			for i, x := range xs {
				xs[i] = padOrTruncate(x, charLen)
			}
		}
		if err := checkCount(len(xs), count); err != nil {
			return Value{}, err
		}
		return Value{Type: t, Shape: shape, Data: xs}, nil
	case TypeRaw:
		return Value{Type: t, Shape: shape, Data: []byte(raw)}, nil
	case TypeStruct:
		return Value{Type: t, Shape: shape, Data: raw}, nil
	default:
		return Value{}, newError("DecodeValue", KindTypeMismatch, fmt.Errorf("unsupported type %v", t))
	}
}

func checkCount(got, want int) error {
	if want > 0 && got != want {
		return newError("DecodeValue", KindIncomplete, fmt.Errorf("got %d elements, expected %d", got, want))
	}
	return nil
}

func splitTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func splitSegments(raw string) []string {
	if raw == "" {
		return []string{""}
	}
	return strings.Split(raw, "\r")
}

func padOrTruncate(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat("\x00", n-len(s))
}

// parseIntToken parses a decimal or "0x"-prefixed hex integer token.
func parseIntToken(tok string) (int64, error) {
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		return strconv.ParseInt(tok[2:], 16, 64)
	}
	if strings.HasPrefix(tok, "-0x") || strings.HasPrefix(tok, "-0X") {
		n, err := strconv.ParseInt(tok[3:], 16, 64)
		return -n, err
	}
	return strconv.ParseInt(tok, 10, 64)
}

// FormatIntHex renders v as a "0x"-prefixed hex token, the alternate integer
// wire form named in spec.md's wire-format rules.
func FormatIntHex(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", -v)
	}
	return fmt.Sprintf("0x%x", v)
}
