package output

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes a header row of columns followed by one row per record.
// Empty columns selects the union of record keys. Missing keys are empty
// fields.
func WriteCSV[R ~map[string]any](w io.Writer, records []R, columns []string) error {
	if len(columns) == 0 {
		columns = Columns(records)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = Cell(r[c])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
