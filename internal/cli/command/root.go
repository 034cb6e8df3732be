package command

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/config"
	"github.com/yndnr/rowcache/internal/cli/connection"
	"github.com/yndnr/rowcache/internal/cli/output"
	"github.com/yndnr/rowcache/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "rowcache-cli",
		Usage:   "Query and refresh a rowcache server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			HealthCommand(),
			MetaCommand(),
			PageCommand(),
			RangeCommand(),
			RefreshCommand(),
			TaskCommand(),
			ExportCommand(),
			ConfigCommand(),
		},
		EnableBashCompletion: true,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "rowcache server URL (default from the config file, else " + config.DefaultServer + ")",
			EnvVars: []string{"ROWCACHE_SERVER"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Aliases: []string{"k"},
			Usage:   "API key sent as X-API-Key",
			EnvVars: []string{"ROWCACHE_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			EnvVars: []string{"ROWCACHE_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI config file",
			EnvVars: []string{"ROWCACHE_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// Settings are the effective global options: flags and environment over
// the config file over defaults.
type Settings struct {
	Server     string
	APIKey     string
	Output     output.Format
	ConfigPath string
	Timeout    time.Duration
}

// LoadSettings resolves the global options for c.
func LoadSettings(c *cli.Context) (*Settings, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg = config.Merge(cfg, config.CLIConfig{
		DefaultServer: c.String("server"),
		DefaultOutput: c.String("output"),
		APIKey:        c.String("api-key"),
	})

	format, err := output.ParseFormat(cfg.DefaultOutput)
	if err != nil {
		return nil, err
	}
	return &Settings{
		Server:     cfg.DefaultServer,
		APIKey:     cfg.APIKey,
		Output:     format,
		ConfigPath: path,
		Timeout:    c.Duration("timeout"),
	}, nil
}

// Client returns an API client for the configured server.
func (s *Settings) Client() *connection.HTTPClient {
	return connection.NewHTTPClient(s.Server, s.APIKey, connection.WithTimeout(s.Timeout))
}

// Print writes data in the selected format. In table format a non-nil
// table replaces the generic field listing.
func (s *Settings) Print(w io.Writer, data any, table *output.Table) error {
	if s.Output == output.FormatTable && table != nil {
		return table.Render(w)
	}
	return output.NewFormatter(s.Output).Format(w, data)
}

// setup resolves settings and builds a client for an action.
func setup(c *cli.Context) (*Settings, *connection.HTTPClient, error) {
	s, err := LoadSettings(c)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Client(), nil
}

// warnf writes a diagnostic line to the error writer.
func warnf(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(c.App.ErrWriter, format+"\n", args...)
}
