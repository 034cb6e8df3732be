package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/connection"
	"github.com/yndnr/rowcache/internal/cli/output"
	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/server/httpserver/handler"
)

// Export defaults.
const (
	DefaultExportPageSize = 1000
	maxExportAttempts     = 3
)

// errSnapshotChanged means a new snapshot was published mid-export.
var errSnapshotChanged = errors.New("snapshot changed during export")

// ExportCommand dumps the whole snapshot to a file.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every record of the current snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "File format: json or csv",
				Value: "json",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output file, - for standard output",
				Value: "-",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Records per request (the server caps it)",
				Value: DefaultExportPageSize,
			},
			&cli.StringSliceFlag{
				Name:    "fields",
				Aliases: []string{"f"},
				Usage:   "Only export these fields",
			},
		},
		Action: runExport,
	}
}

// exportResult is one consistent read of a snapshot.
type exportResult struct {
	Records []domain.Record
	Version uint64
	Total   int
}

func runExport(c *cli.Context) error {
	format := strings.ToLower(c.String("format"))
	if format != "json" && format != "csv" {
		return fmt.Errorf("unsupported export format %q (want json or csv)", format)
	}
	pageSize := c.Int("page-size")
	if pageSize <= 0 {
		return fmt.Errorf("page-size must be positive")
	}

	_, client, err := setup(c)
	if err != nil {
		return err
	}

	var bar *output.ProgressBar
	if output.IsTerminal(c.App.ErrWriter) {
		bar = output.NewProgressBar(c.App.ErrWriter, "Exporting", "records")
	}

	fields := fieldList(c)
	var res *exportResult
	for attempt := 1; ; attempt++ {
		res, err = collect(c.Context, client, pageSize, fields, bar)
		if !errors.Is(err, errSnapshotChanged) {
			break
		}
		if attempt == maxExportAttempts {
			return fmt.Errorf("%w %d times, giving up", err, attempt)
		}
		warnf(c, "snapshot changed during export, restarting")
		if bar != nil {
			bar.Reset()
		}
	}
	if err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	out := c.String("out")
	if err := writeExport(c.App.Writer, out, format, res.Records, fields); err != nil {
		return err
	}
	if out != "-" {
		warnf(c, "Exported %d records (version %d) to %s", len(res.Records), res.Version, out)
	}
	return nil
}

// collect reads every page of one snapshot version. It fails with
// errSnapshotChanged when the version moves between requests.
func collect(ctx context.Context, client *connection.HTTPClient, pageSize int, fields []string, bar *output.ProgressBar) (*exportResult, error) {
	var md handler.MetadataResponse
	if _, err := client.Get(ctx, "/data?metadata_only=true", &md); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.SetTotal(int64(md.Total))
	}

	res := &exportResult{
		Records: make([]domain.Record, 0, md.Total),
		Version: md.Version,
		Total:   md.Total,
	}
	for offset := 0; ; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))
		if len(fields) > 0 {
			q.Set("fields", strings.Join(fields, ","))
		}

		var page handler.PageResponse
		header, err := client.Get(ctx, dataPath(q), &page)
		if err != nil {
			return nil, err
		}

		if v, ok := etagVersion(header.Get("ETag")); ok && v != md.Version {
			return nil, errSnapshotChanged
		}

		res.Records = append(res.Records, page.Records...)
		if bar != nil {
			bar.Increment(int64(len(page.Records)))
		}
		if !page.HasMore || page.Returned == 0 {
			break
		}
		offset += page.Returned
	}
	return res, nil
}

// etagVersion extracts the snapshot version from an ETag of the form
// W/"v<version>-<fingerprint>".
func etagVersion(tag string) (uint64, bool) {
	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, `"`)
	if !strings.HasPrefix(tag, "v") {
		return 0, false
	}
	num, _, ok := strings.Cut(tag[1:], "-")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(num, 10, 64)
	return v, err == nil
}

func writeExport(stdout io.Writer, path, format string, records []domain.Record, fields []string) error {
	w := stdout
	var f *os.File
	if path != "-" {
		var err error
		f, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		w = f
	}

	var err error
	switch format {
	case "csv":
		err = output.WriteCSV(w, records, fields)
	default:
		err = (&output.JSONFormatter{}).Format(w, records)
	}

	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
