package executor

import (
	"context"
	"fmt"
	"strings"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/types"
)

// normalizeColumn folds the legacy `aggregate` SelectColumn shape into an
// equivalent `derived` one (a FuncCall expression), so every downstream
// consumer only has to handle two shapes, not three (spec §3.3: "both
// shapes accepted by the planner").
func normalizeColumn(col parser.SelectColumn) parser.SelectColumn {
	if col.Kind != parser.ColAggregate {
		return col
	}
	var args []parser.Expression
	if col.Arg != nil {
		args = []parser.Expression{col.Arg}
	}
	return parser.SelectColumn{
		Kind:  parser.ColDerived,
		Expr:  &parser.FuncCall{Name: col.Func, Args: args},
		Alias: col.Alias,
	}
}

// outputColumnName picks the output column name for an unaliased derived
// SELECT item: the bare column name for a plain identifier, the function
// name for a call, else a positional placeholder. The spec names no
// default-naming rule beyond "preserve aliases", so this is an
// implementation choice; the planner's aggregateOutputName follows it.
func outputColumnName(col parser.SelectColumn, idx int) string {
	if col.Alias != "" {
		return col.Alias
	}
	switch e := col.Expr.(type) {
	case *parser.Identifier:
		_, name := splitQualifier(e.Name)
		return name
	case *parser.FuncCall:
		return e.Name
	default:
		return fmt.Sprintf("column%d", idx+1)
	}
}

func splitQualifier(name string) (qualifier, col string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// expandColumns evaluates columns against row, producing the output
// row's (cols, vals) pair. `*` expands to every column of row; `t.*`
// expands to the columns whose source carried the alias t, falling back to
// every column when the row tracks no provenance.
func expandColumns(r *run, columns []parser.SelectColumn, row types.Row) (types.Row, error) {
	var outCols []string
	var outVals []any
	for i, raw := range columns {
		col := normalizeColumn(raw)
		switch col.Kind {
		case parser.ColStar:
			if col.Table != "" && row.Srcs != nil {
				for ci, src := range row.Srcs {
					if src == col.Table {
						outCols = append(outCols, row.Cols[ci])
						outVals = append(outVals, row.Vals[ci])
					}
				}
				continue
			}
			outCols = append(outCols, row.Cols...)
			outVals = append(outVals, row.Vals...)
		case parser.ColDerived:
			v, err := r.eval(col.Expr, row)
			if err != nil {
				return types.Row{}, err
			}
			outCols = append(outCols, outputColumnName(col, i))
			outVals = append(outVals, v)
		}
	}
	return types.NewRow(outCols, outVals), nil
}

// projectCursor is spec §4.7's Project operator.
type projectCursor struct {
	r       *run
	child   Cursor
	columns []parser.SelectColumn
	cur     types.Row
	err     error
}

func (c *projectCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.child.Next(ctx) {
		c.err = c.child.Err()
		return false
	}
	row, err := expandColumns(c.r, c.columns, c.child.Row())
	if err != nil {
		c.err = err
		return false
	}
	c.cur = row
	return true
}

func (c *projectCursor) Row() types.Row { return c.cur }
func (c *projectCursor) Err() error     { return c.err }
func (c *projectCursor) Close() error   { return c.child.Close() }
