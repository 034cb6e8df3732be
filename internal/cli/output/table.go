package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions renders the table, optionally without its header row.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// TableFormatter formats data as an aligned table.
//
// *Table values render as they are. Anything else is flattened into
// FIELD/VALUE rows keyed by JSON field path, e.g. "snapshot.version".
type TableFormatter struct {
	NoHeaders bool
}

// Format formats data as a table.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	if t, ok := data.(*Table); ok {
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	v, err := toGeneric(data)
	if err != nil {
		return err
	}
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	flatten("", v, t)
	return t.RenderWithOptions(w, f.NoHeaders)
}

// flatten adds one row per scalar leaf. Lists of scalars are joined; other
// lists are summarized by length.
func flatten(prefix string, v any, t *Table) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 && prefix != "" {
			t.AddRow(prefix, "-")
			return
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			flatten(name, x[k], t)
		}
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			switch item.(type) {
			case map[string]any, []any:
				t.AddRow(prefix, fmt.Sprintf("[%d items]", len(x)))
				return
			}
			parts = append(parts, Cell(item))
		}
		if len(parts) == 0 {
			t.AddRow(prefix, "-")
			return
		}
		t.AddRow(prefix, strings.Join(parts, ", "))
	default:
		s := Cell(x)
		if s == "" {
			s = "-"
		}
		t.AddRow(prefix, s)
	}
}

// Cell renders one value for a table cell or CSV field. Nil is empty;
// nested values are written as compact JSON.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, err := outputJSON.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// Columns returns the sorted union of keys across records.
func Columns[R ~map[string]any](records []R) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// RecordsTable lays records out one per row. Empty columns selects the
// union of record keys.
func RecordsTable[R ~map[string]any](records []R, columns []string) *Table {
	if len(columns) == 0 {
		columns = Columns(records)
	}
	t := &Table{Headers: make([]string, len(columns))}
	for i, c := range columns {
		t.Headers[i] = strings.ToUpper(c)
	}
	for _, r := range records {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = Cell(r[c])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
