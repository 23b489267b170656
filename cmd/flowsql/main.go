// cmd/flowsql/main.go
//
// flowsql - Interactive SQL shell over CSV/JSON-backed in-memory tables.
//
// Usage:
//
//	flowsql name1=path1.csv name2=path2.json ...
//
// Each argument binds a table name to a CSV or JSON file loaded fully into
// memory before the shell starts. Use .help for available commands.
package main

import (
	"fmt"
	"os"
	"strings"

	"flowsql/pkg/cli"
	"flowsql/pkg/datasource"
)

func main() {
	tables, err := loadTablesFromArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	repl := cli.NewREPL(tables, os.Stdout, os.Stderr)
	repl.Run()
}

func loadTablesFromArgs(args []string) (map[string]datasource.Table, error) {
	tables := make(map[string]datasource.Table, len(args))
	for _, arg := range args {
		name, path, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected name=path.csv or name=path.json", arg)
		}
		t, err := cli.LoadTable(path)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}
