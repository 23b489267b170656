package eval

import (
	"math/big"
	"strings"

	"flowsql/pkg/types"
)

// Aggregator accumulates one aggregate function's state across a group of
// rows (spec §4.6 "Aggregates").
type Aggregator interface {
	Add(v any)
	Result() any
}

// NewAggregator returns the Aggregator for a built-in aggregate function
// name. countStar selects COUNT(*) semantics (count every row, ignoring
// the value passed to Add).
func NewAggregator(name string, countStar bool) Aggregator {
	switch strings.ToUpper(name) {
	case "COUNT":
		return &countAgg{star: countStar}
	case "SUM":
		return &sumAgg{}
	case "AVG":
		return &avgAgg{}
	case "MIN":
		return &minMaxAgg{min: true}
	case "MAX":
		return &minMaxAgg{min: false}
	default:
		return &countAgg{}
	}
}

type countAgg struct {
	star bool
	n    int64
}

func (a *countAgg) Add(v any) {
	if a.star || !types.IsNull(v) {
		a.n++
	}
}
func (a *countAgg) Result() any { return float64(a.n) }

type sumAgg struct {
	haveBig bool
	bigSum  *big.Int
	sum     float64
	any     bool
}

func (a *sumAgg) Add(v any) {
	if types.IsNull(v) {
		return
	}
	a.any = true
	if bi, ok := v.(*big.Int); ok {
		if !a.haveBig {
			a.haveBig = true
			a.bigSum = new(big.Int)
		}
		a.bigSum.Add(a.bigSum, bi)
		return
	}
	f, ok := types.AsFloat(v)
	if ok {
		a.sum += f
	}
}
func (a *sumAgg) Result() any {
	if !a.any {
		return nil
	}
	if a.haveBig {
		return a.bigSum
	}
	return a.sum
}

type avgAgg struct {
	sum float64
	n   int64
}

func (a *avgAgg) Add(v any) {
	if types.IsNull(v) {
		return
	}
	f, ok := types.AsFloat(v)
	if !ok {
		return
	}
	a.sum += f
	a.n++
}
func (a *avgAgg) Result() any {
	if a.n == 0 {
		return nil
	}
	return a.sum / float64(a.n)
}

type minMaxAgg struct {
	min   bool
	value any
	any   bool
}

func (a *minMaxAgg) Add(v any) {
	if types.IsNull(v) {
		return
	}
	if !a.any {
		a.value = v
		a.any = true
		return
	}
	c, ok := types.Compare(v, a.value)
	if !ok {
		return
	}
	if (a.min && c < 0) || (!a.min && c > 0) {
		a.value = v
	}
}
func (a *minMaxAgg) Result() any {
	if !a.any {
		return nil
	}
	return a.value
}
