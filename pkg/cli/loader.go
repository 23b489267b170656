package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"flowsql/pkg/datasource"
	"flowsql/pkg/datasource/memsource"
)

// LoadTable reads a CSV or JSON file into an in-memory table, dispatching on
// the file extension (spec §4.8's Table interface is source-agnostic; this
// loader is the CLI's concrete producer of one).
func LoadTable(path string) (datasource.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(strings.ToLower(path), ".json"):
		return loadJSON(f)
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		return loadCSV(f)
	default:
		return nil, fmt.Errorf("%s: unrecognized table file extension (want .csv or .json)", path)
	}
}

func loadCSV(r io.Reader) (datasource.Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return memsource.NewFromMaps(nil, nil), nil
	}

	cols := records[0]
	maps := make([]map[string]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if i >= len(rec) {
				m[c] = nil
				continue
			}
			m[c] = csvCellValue(rec[i])
		}
		maps = append(maps, m)
	}
	return memsource.NewFromMaps(maps, cols), nil
}

// csvCellValue infers a scalar kind from raw CSV text: the empty string
// becomes NULL, "true"/"false" become booleans, and anything parseable as a
// float64 is numeric; everything else stays a string.
func csvCellValue(raw string) any {
	if raw == "" {
		return nil
	}
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func loadJSON(r io.Reader) (datasource.Table, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	colSet := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			colSet[k] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	return memsource.NewFromMaps(records, cols), nil
}
