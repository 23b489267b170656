// Package types holds the runtime scalar value model shared by the
// evaluator, executor and data sources. Runtime values are plain `any`: nil, bool,
// float64 ("number"), *big.Int ("bigint"), string, []any ("array"), or a
// nested object — Object when field order matters, map[string]any as the
// unordered fallback. Kind classifies a value into the variants spec'd for
// the row model.
package types

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind is the tag of a runtime value's dynamic type.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindBigint
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOLEAN"
	case KindNumber:
		return "NUMBER"
	case KindBigint:
		return "BIGINT"
	case KindString:
		return "STRING"
	case KindArray:
		return "ARRAY"
	case KindObject:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// Object is an ordered key/value mapping: the "nested object" runtime
// variant. Field order is preserved, so CAST(x AS STRING) renders fields
// the way the source laid them out.
type Object struct {
	Keys []string
	Vals []any
}

// Get returns the value bound to key and whether it was found.
func (o Object) Get(key string) (any, bool) {
	for i, k := range o.Keys {
		if k == key {
			return o.Vals[i], true
		}
	}
	return nil, false
}

// KindOf classifies a runtime value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64, int, int64:
		return KindNumber
	case *big.Int:
		return KindBigint
	case string:
		return KindString
	case []any:
		return KindArray
	case Object, map[string]any:
		return KindObject
	default:
		return KindNull
	}
}

// IsNull reports whether v is the SQL NULL value.
func IsNull(v any) bool { return v == nil }

// AsFloat coerces numeric-ish values (number, bigint, bool) to float64.
// ok is false when v cannot be coerced to a number.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case *big.Int:
		f := new(big.Float).SetInt(t)
		out, _ := f.Float64()
		return out, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsBigInt coerces a value to *big.Int when it represents an integer
// exactly (bigint, or a number with no fractional part).
func AsBigInt(v any) (*big.Int, bool) {
	switch t := v.(type) {
	case *big.Int:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return nil, false
		}
		return big.NewInt(int64(t)), true
	default:
		return nil, false
	}
}

// Compare returns -1, 0, 1 comparing a and b, and ok=false when the pair is
// not comparable (per spec §4.6: mixed non-numeric/non-string types yield
// NULL, i.e. "not comparable").
func Compare(a, b any) (cmp int, ok bool) {
	ak, bk := KindOf(a), KindOf(b)

	if ak == KindString && bk == KindString {
		return strings.Compare(a.(string), b.(string)), true
	}

	if (ak == KindNumber || ak == KindBigint || ak == KindBool) &&
		(bk == KindNumber || bk == KindBigint || bk == KindBool) {
		if ak == KindBigint && bk == KindBigint {
			return a.(*big.Int).Cmp(b.(*big.Int)), true
		}
		af, _ := AsFloat(a)
		bf, _ := AsFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

// Equal reports value-equality following Compare's rules; ok mirrors
// Compare's ok (false means "not comparable", which callers treat as NULL).
func Equal(a, b any) (equal bool, ok bool) {
	c, ok := Compare(a, b)
	if !ok {
		return false, false
	}
	return c == 0, true
}

// ToJSONString renders v the way CAST(x AS STRING) must: objects/arrays as
// JSON text with bigints emitted as unquoted decimal integers, and Object
// fields in their original order, matching spec §4.6 and the end-to-end
// example in spec §8 (item 6). A plain map falls back to sorted key order
// since it carries no order of its own.
func ToJSONString(v any) (string, error) {
	var sb strings.Builder
	if err := writeJSON(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeJSON(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case *big.Int:
		sb.WriteString(t.String())
	case Object:
		sb.WriteByte('{')
		for i, k := range t.Keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeJSON(sb, t.Vals[i]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeJSON(sb, t[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeJSON(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("json encode: %w", err)
		}
		sb.Write(b)
	}
	return nil
}

// GroupKey produces a canonical, comparable string encoding of v suitable
// for use as (part of) a HashAggregate/Distinct group key, per spec §4.7
// ("canonical serialisation for group keys including null, bigint, and
// arrays").
func GroupKey(v any) string {
	var sb strings.Builder
	writeGroupKey(&sb, v)
	return sb.String()
}

func writeGroupKey(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("\x00N")
	case bool:
		if t {
			sb.WriteString("\x00B1")
		} else {
			sb.WriteString("\x00B0")
		}
	case *big.Int:
		sb.WriteString("\x00I")
		sb.WriteString(t.String())
	case float64:
		sb.WriteString("\x00F")
		fmt.Fprintf(sb, "%g", t)
	case string:
		sb.WriteString("\x00S")
		sb.WriteString(t)
	case []any:
		sb.WriteString("\x00[")
		for _, e := range t {
			writeGroupKey(sb, e)
			sb.WriteString("\x00,")
		}
		sb.WriteString("\x00]")
	case Object:
		// Key order is presentation, not identity: sort so equal-content
		// objects land in one group regardless of field order.
		idx := make([]int, len(t.Keys))
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return t.Keys[idx[a]] < t.Keys[idx[b]] })
		sb.WriteString("\x00{")
		for _, i := range idx {
			sb.WriteString(t.Keys[i])
			sb.WriteString("\x00:")
			writeGroupKey(sb, t.Vals[i])
			sb.WriteString("\x00,")
		}
		sb.WriteString("\x00}")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\x00{")
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteString("\x00:")
			writeGroupKey(sb, t[k])
			sb.WriteString("\x00,")
		}
		sb.WriteString("\x00}")
	default:
		fmt.Fprintf(sb, "\x00?%v", t)
	}
}
