package cli

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	var logCfg logConfig

	cmd := &cli.Command{
		Name:  "crisisops",
		Usage: "Multimodal disaster response assistant",
		Flags: logFlags(&logCfg),
		Commands: []*cli.Command{
			chatCommand(&logCfg),
			ingestCommand(&logCfg),
			serveCommand(&logCfg),
			resetCommand(&logCfg),
			initCommand(&logCfg),
			inspectCommand(&logCfg),
			historyCommand(&logCfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

type logConfig struct {
	level  string
	format string
}

func logFlags(cfg *logConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("CRISISOPS_LOG_LEVEL"),
			Destination: &cfg.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("CRISISOPS_LOG_FORMAT"),
			Destination: &cfg.format,
		},
	}
}

// setup installs the configured logger as default and attaches it to ctx
func (cfg *logConfig) setup(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.level, logging.Format(cfg.format), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}
