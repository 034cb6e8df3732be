package command

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/output"
	"github.com/yndnr/rowcache/internal/server/httpserver/handler"
)

// StatusCommand shows the snapshot and refresh state.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show snapshot and refresh status",
		Action: showStatus,
	}
}

// HealthCommand checks that the server answers.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Check server health",
		Action: checkHealth,
	}
}

// MetaCommand shows the current snapshot's metadata.
func MetaCommand() *cli.Command {
	return &cli.Command{
		Name:    "meta",
		Aliases: []string{"metadata"},
		Usage:   "Show snapshot metadata without records",
		Action:  showMeta,
	}
}

func showStatus(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	var st handler.StatusResponse
	if _, err := client.Get(c.Context, "/status", &st); err != nil {
		return err
	}
	return s.Print(c.App.Writer, st, statusTable(&st))
}

func statusTable(st *handler.StatusResponse) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	snap, ref := st.Snapshot, st.Refresh

	t.AddRow("Has data", output.Cell(snap.HasData))
	t.AddRow("Records", humanize.Comma(int64(snap.RecordCount)))
	t.AddRow("Version", output.Cell(snap.Version))
	if snap.FetchedAt != nil {
		t.AddRow("Fetched", fmt.Sprintf("%s (%s)", output.Cell(*snap.FetchedAt), snap.Age))
	}
	t.AddRow("Size", snap.SizeEstimate)
	t.AddRow("Source", ref.Source)
	t.AddRow("Interval", ref.Interval)
	t.AddRow("Running", output.Cell(ref.Running))
	if ref.CurrentTaskID != "" {
		t.AddRow("Current task", ref.CurrentTaskID)
	}
	if ref.NextRunAt != nil {
		t.AddRow("Next run", output.Cell(*ref.NextRunAt))
	}
	if o := ref.LastOutcome; o != nil {
		result := "success"
		if o.Error != "" {
			result = o.Error
		}
		t.AddRow("Last refresh", fmt.Sprintf("%s %s in %s: %s", o.TaskID, o.Trigger, o.Duration, result))
	}
	t.AddRow("Failures in a row", output.Cell(ref.ConsecutiveFailures))
	t.AddRow("Server version", st.Build.Version)
	t.AddRow("Uptime", st.Uptime)
	return t
}

func checkHealth(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	var h handler.HealthResponse
	if _, err := client.Get(c.Context, "/health", &h); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if s.Output != output.FormatTable {
		return s.Print(c.App.Writer, h, nil)
	}
	if h.Status != "healthy" {
		return fmt.Errorf("server is unhealthy: %s", h.Status)
	}
	fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n  Target: %s\n", client.BaseURL())
	return nil
}

func showMeta(c *cli.Context) error {
	s, client, err := setup(c)
	if err != nil {
		return err
	}

	var md handler.MetadataResponse
	if _, err := client.Get(c.Context, "/data?metadata_only=true", &md); err != nil {
		return err
	}
	return s.Print(c.App.Writer, md, nil)
}
