package sim

import (
	"fmt"

	"github.com/channelaccess/snapshot/internal/domain"
)

// ValueOf converts a decoded YAML scalar or list into a PV value.
func ValueOf(raw any) (domain.Value, error) {
	switch v := raw.(type) {
	case nil:
		return domain.NoData(), nil
	case string:
		return domain.String(v), nil
	case bool:
		if v {
			return domain.Number(1), nil
		}
		return domain.Number(0), nil
	case []any:
		seq := make([]float64, len(v))
		for i, item := range v {
			n, ok := toFloat(item)
			if !ok {
				return domain.Value{}, fmt.Errorf("sequence element %d: %w: %T", i, domain.ErrTypeMismatch, item)
			}
			seq[i] = n
		}
		return domain.Sequence(seq), nil
	case []float64:
		return domain.Sequence(v), nil
	default:
		n, ok := toFloat(v)
		if !ok {
			return domain.Value{}, fmt.Errorf("%w: unsupported value %T", domain.ErrTypeMismatch, raw)
		}
		return domain.Number(n), nil
	}
}

// WithValues seeds many PVs from loosely typed config values.
func WithValues(values map[string]any) (Option, error) {
	typed := make(map[domain.PvName]domain.Value, len(values))
	for name, raw := range values {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("sim value %s: %w", name, err)
		}
		typed[name] = v
	}
	return func(b *Backend) {
		for name, v := range typed {
			b.values[name] = v
		}
	}, nil
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
