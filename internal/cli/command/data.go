package command

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/output"
	"github.com/yndnr/rowcache/internal/server/httpserver/handler"
)

// PageCommand reads one page of records.
func PageCommand() *cli.Command {
	return &cli.Command{
		Name:  "page",
		Usage: "Read a page of records",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Records per page (0 uses the server default)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Records to skip",
			},
			&cli.StringSliceFlag{
				Name:    "fields",
				Aliases: []string{"f"},
				Usage:   "Only return these fields (repeat or comma separate)",
			},
			&cli.BoolFlag{
				Name:  "fresh",
				Usage: "Ask the server to refresh before reading",
			},
		},
		Action: readPage,
	}
}

// RangeCommand reads an inclusive, 1-indexed row range.
func RangeCommand() *cli.Command {
	return &cli.Command{
		Name:  "range",
		Usage: "Read rows START through END (1-indexed, inclusive)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "start",
				Usage: "First row (0 means the first)",
			},
			&cli.IntFlag{
				Name:  "end",
				Usage: "Last row (0 means the last)",
			},
			&cli.StringSliceFlag{
				Name:    "fields",
				Aliases: []string{"f"},
				Usage:   "Only return these fields (repeat or comma separate)",
			},
		},
		Action: readRange,
	}
}

func readPage(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	q := url.Values{}
	if c.IsSet("limit") {
		q.Set("limit", strconv.Itoa(c.Int("limit")))
	}
	if c.IsSet("offset") {
		q.Set("offset", strconv.Itoa(c.Int("offset")))
	}
	fields := fieldList(c)
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if c.Bool("fresh") {
		q.Set("fresh", "true")
	}

	var page handler.PageResponse
	if _, err := client.Get(c.Context, dataPath(q), &page); err != nil {
		return err
	}

	if err := s.Print(c.App.Writer, page, output.RecordsTable(page.Records, fields)); err != nil {
		return err
	}
	if s.Output == output.FormatTable {
		footer := fmt.Sprintf("\nRows %d-%d of %d", page.Offset+1, page.Offset+page.Returned, page.Total)
		if page.Returned == 0 {
			footer = fmt.Sprintf("\nNo rows at offset %d of %d", page.Offset, page.Total)
		}
		if page.HasMore {
			footer += fmt.Sprintf(" (next: --offset %d)", page.Offset+page.Returned)
		}
		if page.Refresh != "" {
			footer += fmt.Sprintf(", refresh %s", page.Refresh)
		}
		fmt.Fprintln(c.App.Writer, footer)
	}
	return nil
}

func readRange(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("start_row", strconv.Itoa(c.Int("start")))
	q.Set("end_row", strconv.Itoa(c.Int("end")))
	fields := fieldList(c)
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var rr handler.RangeResponse
	if _, err := client.Get(c.Context, dataPath(q), &rr); err != nil {
		return err
	}

	if err := s.Print(c.App.Writer, rr, output.RecordsTable(rr.Records, fields)); err != nil {
		return err
	}
	if s.Output == output.FormatTable {
		if rr.Returned == 0 {
			fmt.Fprintf(c.App.Writer, "\nNo rows in %d-%d of %d\n", rr.StartRow, rr.EndRow, rr.Total)
		} else {
			fmt.Fprintf(c.App.Writer, "\nRows %d-%d of %d\n", rr.StartRow, rr.EndRow, rr.Total)
		}
	}
	return nil
}

// fieldList splits --fields values on commas and drops blanks.
func fieldList(c *cli.Context) []string {
	var fields []string
	for _, v := range c.StringSlice("fields") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func dataPath(q url.Values) string {
	if len(q) == 0 {
		return "/data"
	}
	return "/data?" + q.Encode()
}
