package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rowcache/internal/cli/config"
)

// ConfigCommand manages the local CLI configuration file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the effective CLI configuration",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-secrets",
						Usage: "Print the API key instead of masking it",
					},
				},
				Action: configShow,
			},
			{
				Name:      "set",
				Usage:     "Store a setting (default_server, default_output, api_key)",
				ArgsUsage: "KEY VALUE",
				Action:    configSet,
			},
			{
				Name:   "path",
				Usage:  "Print the config file path",
				Action: configPath,
			},
		},
	}
}

// configView is what config show prints.
type configView struct {
	Path          string `json:"path"`
	DefaultServer string `json:"default_server"`
	DefaultOutput string `json:"default_output"`
	APIKey        string `json:"api_key"`
}

func configShow(c *cli.Context) error {
	s, err := LoadSettings(c)
	if err != nil {
		return err
	}

	key := s.APIKey
	if key != "" && !c.Bool("show-secrets") {
		key = "****"
	}
	return s.Print(c.App.Writer, configView{
		Path:          s.ConfigPath,
		DefaultServer: s.Server,
		DefaultOutput: string(s.Output),
		APIKey:        key,
	}, nil)
}

func configSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: config set KEY VALUE")
	}
	path := c.String("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Fprintf(c.App.Writer, "✓ %s saved to %s\n", c.Args().Get(0), path)
	return nil
}

func configPath(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, c.String("config"))
	return nil
}
