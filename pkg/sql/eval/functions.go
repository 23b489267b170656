package eval

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/types"
)

func evalFuncCall(n *parser.FuncCall, row types.Row, ctx *Context) (any, error) {
	name := strings.ToUpper(n.Name)

	if fn, ok := builtinScalars[name]; ok {
		args := make([]any, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := eval(a, row, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return fn(args)
	}

	if ctx != nil && ctx.Functions != nil {
		if fn, ok := ctx.Functions[n.Name]; ok {
			return callUserFunc(fn, n, row, ctx)
		}
		if fn, ok := ctx.Functions[name]; ok {
			return callUserFunc(fn, n, row, ctx)
		}
	}

	return nil, &RuntimeError{Message: fmt.Sprintf("unknown function %q", n.Name), PositionStart: n.Pos.Start}
}

func callUserFunc(fn Func, n *parser.FuncCall, row types.Row, ctx *Context) (result any, err error) {
	args := make([]any, 0, len(n.Args))
	for _, a := range n.Args {
		v, evalErr := eval(a, row, ctx)
		if evalErr != nil {
			return nil, evalErr
		}
		args = append(args, v)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeError{Message: fmt.Sprintf("function %q panicked: %v", n.Name, r), PositionStart: n.Pos.Start}
		}
	}()
	return fn(args)
}

// builtinScalars are the non-aggregate built-ins from spec §4.4. Aggregates
// (COUNT/SUM/AVG/MIN/MAX) are reduced by the executor's aggregate nodes,
// not evaluated here — a bare aggregate call reaching Eval is a planner
// bug, so it is deliberately absent from this table.
var builtinScalars = map[string]func(args []any) (any, error){
	"UPPER": func(args []any) (any, error) {
		s, ok := asString(args[0])
		if !ok {
			return nil, nil
		}
		return strings.ToUpper(s), nil
	},
	"LOWER": func(args []any) (any, error) {
		s, ok := asString(args[0])
		if !ok {
			return nil, nil
		}
		return strings.ToLower(s), nil
	},
	"LENGTH": func(args []any) (any, error) {
		s, ok := asString(args[0])
		if !ok {
			return nil, nil
		}
		return float64(len([]rune(s))), nil
	},
	"TRIM": func(args []any) (any, error) {
		s, ok := asString(args[0])
		if !ok {
			return nil, nil
		}
		return strings.TrimSpace(s), nil
	},
	"CONCAT": func(args []any) (any, error) {
		var sb strings.Builder
		for _, a := range args {
			if types.IsNull(a) {
				return nil, nil
			}
			sb.WriteString(stringify(a))
		}
		return sb.String(), nil
	},
	"SUBSTRING": func(args []any) (any, error) {
		s, ok := asString(args[0])
		if !ok || len(args) < 2 {
			return nil, nil
		}
		start, ok := types.AsFloat(args[1])
		if !ok {
			return nil, nil
		}
		r := []rune(s)
		from := int(start) - 1
		if from < 0 {
			from = 0
		}
		if from > len(r) {
			from = len(r)
		}
		length := len(r) - from
		if len(args) >= 3 {
			lf, ok := types.AsFloat(args[2])
			if ok {
				length = int(lf)
			}
		}
		end := from + length
		if end > len(r) {
			end = len(r)
		}
		if end < from {
			end = from
		}
		return string(r[from:end]), nil
	},
	"ARRAY_LENGTH": func(args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, nil
		}
		return float64(len(arr)), nil
	},
	"CARDINALITY": func(args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, nil
		}
		return float64(len(arr)), nil
	},
	"ARRAY_POSITION": func(args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, nil
		}
		target := args[1]
		for i, v := range arr {
			if eq, ok := types.Equal(v, target); ok && eq {
				return float64(i + 1), nil
			}
		}
		return nil, nil
	},
	"ARRAY_SORT": func(args []any) (any, error) {
		arr, ok := args[0].([]any)
		if !ok {
			return nil, nil
		}
		out := make([]any, len(arr))
		copy(out, arr)
		sort.SliceStable(out, func(i, j int) bool {
			ni, nj := types.IsNull(out[i]), types.IsNull(out[j])
			if ni || nj {
				return !ni && nj
			}
			c, ok := types.Compare(out[i], out[j])
			if !ok {
				return false
			}
			return c < 0
		})
		return out, nil
	},
	"CURRENT_DATE": func(args []any) (any, error) {
		return time.Now().UTC().Format("2006-01-02"), nil
	},
	"CURRENT_TIME": func(args []any) (any, error) {
		return time.Now().UTC().Format("15:04:05.000"), nil
	},
	"CURRENT_TIMESTAMP": func(args []any) (any, error) {
		return time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), nil
	},
	"DATE_ADD": func(args []any) (any, error) { return dateArith(args, 1) },
	"DATE_SUB": func(args []any) (any, error) { return dateArith(args, -1) },
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// intervalArith handles `date ± INTERVAL n unit` when either operand is an
// Interval (spec §4.6 "Date arithmetic"). handled=false means neither
// operand is an Interval and ordinary numeric arithmetic applies; a
// cross-type addition involving an Interval but no parseable date string
// yields NULL.
func intervalArith(left, right any, sign int) (any, bool) {
	iv, ok := right.(Interval)
	if !ok {
		lv, leftIsInterval := left.(Interval)
		if !leftIsInterval {
			return nil, false
		}
		if sign < 0 {
			// INTERVAL - date has no meaning.
			return nil, true
		}
		left, iv = right, lv
	}
	s, ok := left.(string)
	if !ok {
		return nil, true
	}
	t, err := parseDateish(s)
	if err != nil {
		return nil, true
	}
	return formatLike(s, addInterval(t, iv, sign)), true
}

func dateArith(args []any, sign int) (any, error) {
	if len(args) < 2 {
		return nil, nil
	}
	s, ok := asString(args[0])
	if !ok {
		return nil, nil
	}
	iv, ok := args[1].(Interval)
	if !ok {
		return nil, nil
	}
	t, err := parseDateish(s)
	if err != nil {
		return nil, nil
	}
	out := addInterval(t, iv, sign)
	return formatLike(s, out), nil
}

func parseDateish(s string) (time.Time, error) {
	layouts := []string{"2006-01-02T15:04:05.000Z", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	var lastErr error
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func formatLike(original string, t time.Time) string {
	switch {
	case len(original) == len("2006-01-02"):
		return t.Format("2006-01-02")
	case strings.Contains(original, "T"):
		return t.Format("2006-01-02T15:04:05.000Z")
	default:
		return t.Format("2006-01-02 15:04:05")
	}
}

// addInterval adds (or, sign=-1, subtracts) an interval to t, preserving
// day-of-month where possible for month/year units (spec §4.6).
func addInterval(t time.Time, iv Interval, sign int) time.Time {
	n := int(iv.Value) * sign
	switch strings.ToUpper(iv.Unit) {
	case "YEAR":
		return t.AddDate(n, 0, 0)
	case "MONTH":
		return t.AddDate(0, n, 0)
	case "DAY":
		return t.AddDate(0, 0, n)
	case "HOUR":
		return t.Add(time.Duration(n) * time.Hour)
	case "MINUTE":
		return t.Add(time.Duration(n) * time.Minute)
	case "SECOND":
		return t.Add(time.Duration(n) * time.Second)
	default:
		return t
	}
}

// castValue implements CAST(x AS T); unsuccessful casts yield NULL rather
// than an error (spec §4.6).
func castValue(v any, toType string) any {
	if types.IsNull(v) {
		return nil
	}
	switch strings.ToUpper(toType) {
	case "INTEGER":
		f, ok := types.AsFloat(v)
		if !ok {
			return nil
		}
		return float64(int64(f))
	case "BIGINT":
		if bi, ok := v.(*big.Int); ok {
			return bi
		}
		f, ok := types.AsFloat(v)
		if !ok {
			return nil
		}
		return big.NewInt(int64(f))
	case "FLOAT", "DOUBLE":
		f, ok := types.AsFloat(v)
		if !ok {
			return nil
		}
		return f
	case "BOOLEAN":
		switch t := v.(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case *big.Int:
			return t.Sign() != 0
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil
			}
			return b
		default:
			return nil
		}
	case "STRING":
		if str, ok := v.(string); ok {
			return str
		}
		s, err := types.ToJSONString(v)
		if err != nil {
			return nil
		}
		return strings.Trim(s, `"`)
	default:
		return nil
	}
}
