package types

// Row is an ordered mapping from column name to value (spec §3.5). Duplicate
// column names are permitted (they arise from `*` expansion over joined
// tables); Get returns the first occurrence on ambiguity.
type Row struct {
	Cols []string
	Vals []any
	// Srcs optionally attributes each column to the table alias it came
	// from. nil means provenance is untracked; `table.*` expansion and
	// qualified-identifier resolution fall back to name-only lookup then.
	Srcs []string
}

// NewRow builds a Row from parallel column/value slices. The slices are
// retained, not copied.
func NewRow(cols []string, vals []any) Row {
	return Row{Cols: cols, Vals: vals}
}

// Get returns the value bound to name and whether it was found.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.Cols {
		if c == name {
			return r.Vals[i], true
		}
	}
	return nil, false
}

// GetFrom returns the value of column name attributed to the source alias
// src, falling back to the first occurrence of name when provenance is not
// tracked or no column carries that attribution.
func (r Row) GetFrom(src, name string) (any, bool) {
	if r.Srcs != nil {
		for i, c := range r.Cols {
			if c == name && r.Srcs[i] == src {
				return r.Vals[i], true
			}
		}
	}
	return r.Get(name)
}

// Tagged returns a copy of r with every column attributed to alias. The
// column/value slices are shared, not copied.
func (r Row) Tagged(alias string) Row {
	srcs := make([]string, len(r.Cols))
	for i := range srcs {
		srcs[i] = alias
	}
	return Row{Cols: r.Cols, Vals: r.Vals, Srcs: srcs}
}

func (r Row) srcsOrEmpty() []string {
	if r.Srcs != nil {
		return r.Srcs
	}
	return make([]string, len(r.Cols))
}

// With returns a new Row with one column appended, attributed to no source.
func (r Row) With(name string, val any) Row {
	cols := make([]string, len(r.Cols), len(r.Cols)+1)
	copy(cols, r.Cols)
	vals := make([]any, len(r.Vals), len(r.Vals)+1)
	copy(vals, r.Vals)
	out := Row{Cols: append(cols, name), Vals: append(vals, val)}
	if r.Srcs != nil {
		srcs := make([]string, len(r.Srcs), len(r.Srcs)+1)
		copy(srcs, r.Srcs)
		out.Srcs = append(srcs, "")
	}
	return out
}

// Merge concatenates r and other's columns, preserving order (r first) and
// per-column source attribution when either side tracks it.
func (r Row) Merge(other Row) Row {
	cols := make([]string, 0, len(r.Cols)+len(other.Cols))
	vals := make([]any, 0, len(r.Vals)+len(other.Vals))
	cols = append(cols, r.Cols...)
	cols = append(cols, other.Cols...)
	vals = append(vals, r.Vals...)
	vals = append(vals, other.Vals...)
	out := Row{Cols: cols, Vals: vals}
	if r.Srcs != nil || other.Srcs != nil {
		srcs := make([]string, 0, len(cols))
		srcs = append(srcs, r.srcsOrEmpty()...)
		srcs = append(srcs, other.srcsOrEmpty()...)
		out.Srcs = srcs
	}
	return out
}

// ToMap renders the row as a plain map for callers that want map semantics;
// on duplicate column names the last write wins, so prefer Get when
// ambiguity matters.
func (r Row) ToMap() map[string]any {
	m := make(map[string]any, len(r.Cols))
	for i, c := range r.Cols {
		m[c] = r.Vals[i]
	}
	return m
}
