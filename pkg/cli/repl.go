package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"flowsql"
	"flowsql/pkg/datasource"
)

// REPL is an interactive SQL shell over a fixed set of named, file-backed
// tables loaded at startup.
type REPL struct {
	engine *flowsql.Engine
	tables map[string]datasource.Table

	shell     *Shell
	output    io.Writer
	errOutput io.Writer

	running       bool
	exitRequested bool
}

// NewREPL creates a REPL reading from stdin and writing to output/errOutput,
// against the given named tables.
func NewREPL(tables map[string]datasource.Table, output, errOutput io.Writer) *REPL {
	return NewREPLWithInput(tables, os.Stdin, output, errOutput)
}

// NewREPLWithInput is NewREPL with an explicit input stream, useful for
// scripted or tested operation.
func NewREPLWithInput(tables map[string]datasource.Table, input io.Reader, output, errOutput io.Writer) *REPL {
	flowTables := make(map[string]flowsql.Table, len(tables))
	for name, t := range tables {
		flowTables[name] = t
	}
	return &REPL{
		engine: flowsql.NewEngine(flowsql.Options{}),
		tables: tables,
		shell:  NewShell(input, output, errOutput),
		output: output, errOutput: errOutput,
	}
}

// Run starts the read-eval-print loop until EOF or .exit.
func (r *REPL) Run() {
	r.running = true
	r.exitRequested = false

	fmt.Fprintln(r.output, "flowsql shell")
	fmt.Fprintln(r.output, "Enter \".help\" for usage hints.")

	for r.running && !r.exitRequested {
		stmt, eof := r.shell.ReadStatement()

		if eof && stmt == "" {
			fmt.Fprintln(r.output)
			break
		}

		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			if eof {
				break
			}
			continue
		}

		if strings.HasPrefix(stmt, ".") {
			r.handleDotCommand(stmt)
			if eof {
				break
			}
			continue
		}

		if err := r.ExecuteStatement(stmt); err != nil {
			r.printError(err)
		}

		if eof {
			break
		}
	}

	r.running = false
}

// ExecuteStatement runs one SQL statement (its trailing semicolons are
// trimmed; the parser itself tolerates at most one) and prints its result.
func (r *REPL) ExecuteStatement(sql string) error {
	query := strings.TrimRight(strings.TrimSpace(sql), ";")

	tables := make(map[string]flowsql.Table, len(r.tables))
	for name, t := range r.tables {
		tables[name] = t
	}

	cur, err := r.engine.ExecuteSQL(context.Background(), flowsql.Request{Query: query, Tables: tables})
	if err != nil {
		return err
	}
	rows, err := flowsql.Collect(context.Background(), cur)
	if err != nil {
		return err
	}
	r.displayRows(rows)
	return nil
}

func (r *REPL) displayRows(rows []flowsql.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(r.output, "(0 rows)")
		return
	}

	cols := rows[0].Cols
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	rendered := make([][]string, len(rows))
	for i, row := range rows {
		rendered[i] = make([]string, len(cols))
		for j := range cols {
			s := formatCell(row.Vals[j])
			rendered[i][j] = s
			if len(s) > widths[j] {
				widths[j] = len(s)
			}
		}
	}

	r.printSeparator(widths)
	r.printRow(cols, widths)
	r.printSeparator(widths)
	for _, row := range rendered {
		r.printRow(row, widths)
	}
	r.printSeparator(widths)
	fmt.Fprintf(r.output, "%d row(s)\n", len(rows))
}

func (r *REPL) printSeparator(widths []int) {
	fmt.Fprint(r.output, "+")
	for _, w := range widths {
		fmt.Fprint(r.output, strings.Repeat("-", w+2))
		fmt.Fprint(r.output, "+")
	}
	fmt.Fprintln(r.output)
}

func (r *REPL) printRow(values []string, widths []int) {
	fmt.Fprint(r.output, "|")
	for i, v := range values {
		fmt.Fprintf(r.output, " %-*s |", widths[i], v)
	}
	fmt.Fprintln(r.output)
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (r *REPL) handleDotCommand(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}
	switch strings.ToLower(parts[0]) {
	case ".exit", ".quit":
		r.exitRequested = true
	case ".help":
		r.printHelp()
	case ".tables":
		r.showTables()
	default:
		fmt.Fprintf(r.errOutput, "Unknown command: %s\n", parts[0])
		fmt.Fprintln(r.errOutput, "Use \".help\" for usage hints.")
	}
}

func (r *REPL) printHelp() {
	help := `
.exit              Exit this program
.help              Show this help message
.quit              Exit this program
.tables            List loaded tables

Enter SQL statements terminated with a semicolon.
Multi-line statements are supported.
`
	fmt.Fprintln(r.output, help)
}

func (r *REPL) showTables() {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Fprintln(r.output, "(no tables)")
		return
	}
	for _, name := range names {
		fmt.Fprintln(r.output, name)
	}
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "Error: %v\n", err)
}
