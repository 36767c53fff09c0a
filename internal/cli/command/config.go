package command

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/metastore-go/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the CLI config file",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI config (token masked)",
				Action: configShow,
			},
			{
				Name:      "set",
				Usage:     "Set a CLI config value (" + strings.Join(config.Keys(), ", ") + ")",
				ArgsUsage: "<key> <value>",
				Action:    configSet,
			},
			{
				Name:   "path",
				Usage:  "Print the CLI config path",
				Action: configPath,
			},
		},
	}
}

func loadedConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[cliConfigKey].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

func configShow(c *cli.Context) error {
	return render(c, loadedConfig(c).Masked())
}

func configSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s %s", c.Command.HelpName, c.Command.ArgsUsage)
	}
	cfg := loadedConfig(c)
	key, value := c.Args().Get(0), c.Args().Get(1)
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Set %s in %s\n", key, c.String("config"))
	return nil
}

func configPath(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, c.String("config"))
	return nil
}
