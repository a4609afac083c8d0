package smax

import (
	"fmt"
	"strconv"
)

// Field is one named entry of a Structure. For every type but TypeStruct,
// Data holds the same Go-native representation as Value.Data; for
// TypeStruct, Data holds *Structure, the denormalized child the field's
// wire value (the child's aggregated id) points to.
type Field struct {
	Name    string
	Type    Type
	Shape   Shape
	CharLen int
	Data    any
	Meta    Meta
}

// Structure is an ordered collection of named fields whose values are
// themselves typed values, including nested structures (spec.md §3). On
// the wire a structure is denormalized: each level is its own Redis hash,
// and nested STRUCT fields carry the aggregated id of the child hash.
type Structure struct {
	Name   string
	Fields []*Field

	// parent is a non-owning back-reference, set at assembly time and never
	// serialized; structures own their children, never the reverse
	// (spec.md §9 "cyclic/back references" design note).
	parent *Structure
}

// Parent returns the structure's parent, or nil at the root.
func (s *Structure) Parent() *Structure { return s.parent }

// Field looks up a field by name.
func (s *Structure) Field(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// structLevel is one hash's worth of raw GetStruct reply data, still in
// string form.
type structLevel struct {
	names   []string
	values  []string
	types   []string
	dims    []string
	times   []string
	origins []string
	serials []string
}

// parseGetStructReply decodes the flat [names, fields-tuple, names', ...]
// reply of the GetStruct script into per-level string records.
func parseGetStructReply(reply []interface{}) ([]structLevel, error) {
	if len(reply)%2 != 0 {
		return nil, newError("parseGetStructReply", KindParse, fmt.Errorf("odd-length reply"))
	}
	levels := make([]structLevel, 0, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		names, err := toStringSlice(reply[i])
		if err != nil {
			return nil, newError("parseGetStructReply", KindParse, err)
		}
		fieldsTuple, ok := reply[i+1].([]interface{})
		if !ok || len(fieldsTuple) != 6 {
			return nil, newError("parseGetStructReply", KindParse, fmt.Errorf("malformed fields tuple"))
		}
		lvl := structLevel{names: names}
		cols := make([][]string, 6)
		for c := 0; c < 6; c++ {
			col, err := toStringSlice(fieldsTuple[c])
			if err != nil {
				return nil, newError("parseGetStructReply", KindParse, err)
			}
			cols[c] = col
		}
		lvl.values, lvl.types, lvl.dims, lvl.times, lvl.origins, lvl.serials =
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5]
		levels = append(levels, lvl)
	}
	return levels, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		switch t := e.(type) {
		case string:
			out[i] = t
		case []byte:
			out[i] = string(t)
		case nil:
			out[i] = ""
		default:
			return nil, fmt.Errorf("unexpected element type %T", e)
		}
	}
	return out, nil
}

// assembleStruct rebuilds the nested Structure tree from the flat,
// breadth-first level list the GetStruct script produces (it processes its
// internal queue FIFO, so the levels arrive in the same order the nested
// Structures must be attached in).
func assembleStruct(topName string, levels []structLevel) (*Structure, error) {
	if len(levels) == 0 {
		return nil, newError("assembleStruct", KindNameInvalid, fmt.Errorf("no data"))
	}
	root := &Structure{Name: topName}
	queue := []*Structure{root}
	for _, lvl := range levels {
		if len(queue) == 0 {
			return nil, newError("assembleStruct", KindParse, fmt.Errorf("more levels than pending structures"))
		}
		cur := queue[0]
		queue = queue[1:]
		for idx, name := range lvl.names {
			t, charLen, err := ParseType(lvl.types[idx])
			if err != nil {
				return nil, err
			}
			shape, err := ParseShape(lvl.dims[idx])
			if err != nil {
				return nil, err
			}
			ts, err := ParseTimestamp(lvl.times[idx])
			if err != nil {
				return nil, err
			}
			serial, _ := strconv.ParseInt(lvl.serials[idx], 10, 64)
			f := &Field{
				Name:    name,
				Type:    t,
				Shape:   shape,
				CharLen: charLen,
				Meta: Meta{
					StoreType:  t,
					StoreShape: shape,
					Origin:     lvl.origins[idx],
					Timestamp:  ts,
					Serial:     serial,
				},
			}
			if t == TypeStruct {
				child := &Structure{Name: name, parent: cur}
				f.Data = child
				queue = append(queue, child)
			} else {
				val, err := DecodeValue(t, shape, charLen, lvl.values[idx])
				if err != nil {
					return nil, err
				}
				f.Data = val.Data
			}
			cur.Fields = append(cur.Fields, f)
		}
	}
	return root, nil
}

// maxTimestamp returns the most recent timestamp among every field reachable
// from s, recursively: the metadata timestamp a structure read reports
// (spec.md §3 invariant).
func maxTimestamp(s *Structure) Timestamp {
	var max Timestamp
	var walk func(*Structure)
	walk = func(s *Structure) {
		for _, f := range s.Fields {
			if f.Meta.Timestamp.Sec > max.Sec || (f.Meta.Timestamp.Sec == max.Sec && f.Meta.Timestamp.Nsec > max.Nsec) {
				max = f.Meta.Timestamp
			}
			if child, ok := f.Data.(*Structure); ok {
				walk(child)
			}
		}
	}
	walk(s)
	return max
}
