package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// Format names an export encoding.
type Format string

const (
	// FormatAuto picks the decoder from the content type or file name.
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned when no decoder matches the input.
var ErrUnknownFormat = errors.New("source: cannot determine input format")

// recordJSON decodes numbers as json.Number so large integer ids survive.
var recordJSON = jsoniter.Config{UseNumber: true}.Froze()

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("source: unknown format %q", s)
	}
}

// DetectFormat resolves the decoder to use. An explicit format wins, then
// the content type, then the file extension.
func DetectFormat(configured Format, contentType, name string) (Format, error) {
	if configured != FormatAuto {
		return configured, nil
	}

	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch {
			case mt == "text/csv" || mt == "application/csv":
				return FormatCSV, nil
			case mt == "application/json" || strings.HasSuffix(mt, "+json"):
				return FormatJSON, nil
			}
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", ErrUnknownFormat
}

// Decode reads a complete export in format f.
func Decode(r io.Reader, f Format) (*Result, error) {
	switch f {
	case FormatCSV:
		return DecodeCSV(r)
	case FormatJSON:
		return DecodeJSON(r)
	default:
		return nil, ErrUnknownFormat
	}
}

// DecodeCSV reads a CSV export whose first row names the fields. Every
// value is kept as a string. A row with a different field count than the
// header is an error.
func DecodeCSV(r io.Reader) (*Result, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Result{Records: []domain.Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("csv: duplicate column %q", name)
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	records := make([]domain.Record, 0, 1024)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row %d: %w", len(records)+1, err)
		}

		rec := make(domain.Record, len(columns))
		for i, col := range columns {
			rec[col] = row[i]
		}
		records = append(records, rec)
	}

	return &Result{Records: records, Columns: columns}, nil
}

// DecodeJSON reads either a top-level array of objects or an object whose
// "data" member is such an array. Records are decoded one at a time from
// the stream. Columns list keys in first-seen order.
func DecodeJSON(r io.Reader) (*Result, error) {
	iter := jsoniter.Parse(recordJSON, r, 64*1024)
	d := &jsonDecoder{seen: make(map[string]struct{})}

	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		d.readArray(iter)

	case jsoniter.ObjectValue:
		found := false
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			if key == "data" && !found {
				if it.WhatIsNext() != jsoniter.ArrayValue {
					it.ReportError("decode", `"data" is not an array`)
					return false
				}
				found = true
				d.readArray(it)
				return it.Error == nil
			}
			it.Skip()
			return true
		})
		if iter.Error == nil && !found {
			return nil, errors.New(`json: object has no "data" array`)
		}

	default:
		if iter.Error == nil || errors.Is(iter.Error, io.EOF) {
			return nil, errors.New("json: expected an array or an object")
		}
	}

	if iter.Error != nil {
		if errors.Is(iter.Error, io.EOF) {
			return nil, fmt.Errorf("json: after %d records: %w", len(d.records), io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("json: after %d records: %w", len(d.records), iter.Error)
	}

	if d.records == nil {
		d.records = []domain.Record{}
	}
	return &Result{Records: d.records, Columns: d.columns}, nil
}

type jsonDecoder struct {
	records []domain.Record
	columns []string
	seen    map[string]struct{}
}

func (d *jsonDecoder) readArray(iter *jsoniter.Iterator) {
	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		if it.WhatIsNext() != jsoniter.ObjectValue {
			it.ReportError("decode", fmt.Sprintf("record %d is not an object", len(d.records)))
			return false
		}

		rec := domain.Record{}
		it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			rec[field] = it.Read()
			if _, ok := d.seen[field]; !ok {
				d.seen[field] = struct{}{}
				d.columns = append(d.columns, field)
			}
			return it.Error == nil
		})
		d.records = append(d.records, rec)
		return it.Error == nil
	})
}
