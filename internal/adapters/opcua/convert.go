package opcua

import (
	"fmt"
	"math"
	"reflect"

	"github.com/gopcua/opcua/ua"

	"github.com/channelaccess/snapshot/internal/domain"
)

// FromVariant converts a node value into a PV value. Booleans become 0/1
// like they do in save files.
func FromVariant(v *ua.Variant) (domain.Value, error) {
	if v == nil || v.Value() == nil {
		return domain.NoData(), nil
	}

	switch val := v.Value().(type) {
	case string:
		return domain.String(val), nil
	case *ua.LocalizedText:
		if val == nil {
			return domain.String(""), nil
		}
		return domain.String(val.Text), nil
	case bool:
		return domain.Number(boolToFloat(val)), nil
	case []string:
		return domain.Value{}, fmt.Errorf("%w: string arrays are not supported", domain.ErrTypeMismatch)
	case []bool:
		seq := make([]float64, len(val))
		for i, b := range val {
			seq[i] = boolToFloat(b)
		}
		return domain.Sequence(seq), nil
	}

	if f, ok := scalarToFloat(v.Value()); ok {
		return domain.Number(f), nil
	}
	if seq, ok := sliceToFloats(v.Value()); ok {
		return domain.Sequence(seq), nil
	}
	return domain.Value{}, fmt.Errorf("%w: unsupported variant %T", domain.ErrTypeMismatch, v.Value())
}

// ToVariant converts a PV value into a variant of the node's type. A zero
// typeID means the node type is unknown and doubles are written.
func ToVariant(v domain.Value, typeID ua.TypeID, array bool) (*ua.Variant, error) {
	switch v.Kind() {
	case domain.KindNoData:
		return nil, fmt.Errorf("%w: nothing to write", domain.ErrTypeMismatch)

	case domain.KindString:
		if typeID != 0 && typeID != ua.TypeIDString {
			return nil, fmt.Errorf("%w: node holds %s, got string", domain.ErrTypeMismatch, typeID)
		}
		s, _ := v.Str()
		return ua.NewVariant(s)

	case domain.KindNumber:
		if array {
			return nil, fmt.Errorf("%w: node holds an array, got scalar", domain.ErrTypeMismatch)
		}
		n, _ := v.Number()
		native, err := numberAs(n, typeID)
		if err != nil {
			return nil, err
		}
		return ua.NewVariant(native)

	case domain.KindSequence:
		if typeID != 0 && !array {
			return nil, fmt.Errorf("%w: node holds a scalar, got sequence", domain.ErrTypeMismatch)
		}
		seq, _ := v.Seq()
		native, err := sequenceAs(seq, typeID)
		if err != nil {
			return nil, err
		}
		return ua.NewVariant(native)

	default:
		return nil, fmt.Errorf("%w: unknown kind %s", domain.ErrTypeMismatch, v.Kind())
	}
}

func numberAs(n float64, typeID ua.TypeID) (any, error) {
	integral := func() error {
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return fmt.Errorf("%w: %v is not an integer", domain.ErrTypeMismatch, n)
		}
		return nil
	}

	switch typeID {
	case 0, ua.TypeIDDouble:
		return n, nil
	case ua.TypeIDFloat:
		return float32(n), nil
	case ua.TypeIDBoolean:
		return n != 0, nil
	case ua.TypeIDString:
		return nil, fmt.Errorf("%w: node holds string, got number", domain.ErrTypeMismatch)
	}

	if err := integral(); err != nil {
		return nil, err
	}
	switch typeID {
	case ua.TypeIDSByte:
		return int8(n), nil
	case ua.TypeIDByte:
		return uint8(n), nil
	case ua.TypeIDInt16:
		return int16(n), nil
	case ua.TypeIDUint16:
		return uint16(n), nil
	case ua.TypeIDInt32:
		return int32(n), nil
	case ua.TypeIDUint32:
		return uint32(n), nil
	case ua.TypeIDInt64:
		return int64(n), nil
	case ua.TypeIDUint64:
		return uint64(n), nil
	default:
		return nil, fmt.Errorf("%w: cannot write number to %s", domain.ErrTypeMismatch, typeID)
	}
}

func sequenceAs(seq []float64, typeID ua.TypeID) (any, error) {
	switch typeID {
	case 0, ua.TypeIDDouble:
		return seq, nil
	case ua.TypeIDFloat:
		out := make([]float32, len(seq))
		for i, n := range seq {
			out[i] = float32(n)
		}
		return out, nil
	case ua.TypeIDBoolean:
		out := make([]bool, len(seq))
		for i, n := range seq {
			out[i] = n != 0
		}
		return out, nil
	}

	// integer arrays share one conversion path via reflection on the
	// element type
	elem, ok := integerElem[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: cannot write sequence to %s", domain.ErrTypeMismatch, typeID)
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), len(seq), len(seq))
	for i, n := range seq {
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("%w: element %d (%v) is not an integer", domain.ErrTypeMismatch, i, n)
		}
		item := out.Index(i)
		switch elem.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			item.SetInt(int64(n))
		default:
			item.SetUint(uint64(n))
		}
	}
	return out.Interface(), nil
}

var integerElem = map[ua.TypeID]reflect.Type{
	ua.TypeIDSByte:  reflect.TypeOf(int8(0)),
	ua.TypeIDByte:   reflect.TypeOf(uint8(0)),
	ua.TypeIDInt16:  reflect.TypeOf(int16(0)),
	ua.TypeIDUint16: reflect.TypeOf(uint16(0)),
	ua.TypeIDInt32:  reflect.TypeOf(int32(0)),
	ua.TypeIDUint32: reflect.TypeOf(uint32(0)),
	ua.TypeIDInt64:  reflect.TypeOf(int64(0)),
	ua.TypeIDUint64: reflect.TypeOf(uint64(0)),
}

func scalarToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func sliceToFloats(v any) ([]float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := scalarToFloat(rv.Index(i).Interface())
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	return reflect.TypeOf(v).Kind() == reflect.Slice
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
