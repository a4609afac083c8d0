package smax

import "context"

// PullAs reads table:key and decodes it into the scalar or slice Go type T,
// replacing the set of per-type GetInt/GetFloat/... convenience functions
// the original library exposed (SPEC_FULL.md §C) with a single generic
// entry point. Supported T: int64, float64, bool, string, []int64,
// []float64, []bool, []string, []byte.
func PullAs[T any](ctx context.Context, c *Client, table, key string) (T, Meta, error) {
	var zero T
	req := ReadRequest{Table: table, Key: key, Type: typeForZero(zero), WithMeta: true}
	v, meta, err := c.Read(ctx, req)
	if err != nil {
		return zero, Meta{}, err
	}
	out, err := decodeAs[T](v)
	if err != nil {
		return zero, Meta{}, err
	}
	return out, meta, nil
}

// ShareAs encodes value and writes it to table:key, the generic counterpart
// to PullAs.
func ShareAs[T any](ctx context.Context, c *Client, table, key string, value T) error {
	v, charLen, err := valueFor(value)
	if err != nil {
		return err
	}
	return c.Write(ctx, table, key, v, charLen)
}

func typeForZero(zero any) Type {
	switch zero.(type) {
	case int64, []int64:
		return TypeInt64
	case float64, []float64:
		return TypeFloat64
	case bool, []bool:
		return TypeBool
	case string, []string:
		return TypeString
	case []byte:
		return TypeRaw
	default:
		return TypeUnknown
	}
}

func decodeAs[T any](v Value) (T, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		xs, _ := v.Data.([]int64)
		if len(xs) == 0 {
			return zero, newError("PullAs", KindIncomplete, nil)
		}
		return any(xs[0]).(T), nil
	case []int64:
		xs, _ := v.Data.([]int64)
		return any(xs).(T), nil
	case float64:
		xs, _ := v.Data.([]float64)
		if len(xs) == 0 {
			return zero, newError("PullAs", KindIncomplete, nil)
		}
		return any(xs[0]).(T), nil
	case []float64:
		xs, _ := v.Data.([]float64)
		return any(xs).(T), nil
	case bool:
		xs, _ := v.Data.([]bool)
		if len(xs) == 0 {
			return zero, newError("PullAs", KindIncomplete, nil)
		}
		return any(xs[0]).(T), nil
	case []bool:
		xs, _ := v.Data.([]bool)
		return any(xs).(T), nil
	case string:
		xs, _ := v.Data.([]string)
		if len(xs) == 0 {
			return zero, newError("PullAs", KindIncomplete, nil)
		}
		return any(xs[0]).(T), nil
	case []string:
		xs, _ := v.Data.([]string)
		return any(xs).(T), nil
	case []byte:
		b, _ := v.Data.([]byte)
		return any(b).(T), nil
	default:
		return zero, newError("PullAs", KindTypeMismatch, nil)
	}
}

func valueFor(value any) (Value, int, error) {
	switch x := value.(type) {
	case int64:
		return Value{Type: TypeInt64, Shape: ScalarShape(), Data: []int64{x}}, 0, nil
	case []int64:
		return Value{Type: TypeInt64, Shape: Shape{Dims: []int{len(x)}}, Data: x}, 0, nil
	case float64:
		return Value{Type: TypeFloat64, Shape: ScalarShape(), Data: []float64{x}}, 0, nil
	case []float64:
		return Value{Type: TypeFloat64, Shape: Shape{Dims: []int{len(x)}}, Data: x}, 0, nil
	case bool:
		return Value{Type: TypeBool, Shape: ScalarShape(), Data: []bool{x}}, 0, nil
	case []bool:
		return Value{Type: TypeBool, Shape: Shape{Dims: []int{len(x)}}, Data: x}, 0, nil
	case string:
		return Value{Type: TypeString, Shape: ScalarShape(), Data: []string{x}}, 0, nil
	case []string:
		return Value{Type: TypeString, Shape: Shape{Dims: []int{len(x)}}, Data: x}, 0, nil
	case []byte:
		return Value{Type: TypeRaw, Shape: Shape{Dims: []int{len(x)}}, Data: x}, 0, nil
	default:
		return Value{}, 0, newError("ShareAs", KindTypeMismatch, nil)
	}
}
