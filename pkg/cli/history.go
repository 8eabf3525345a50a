package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg           config
		archiveBucket string
		sessionID     string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket transcripts are archived in",
			Sources:     cli.EnvVars("CRISISOPS_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"i"},
			Usage:       "Session ID to show",
			Destination: &sessionID,
			Required:    true,
		},
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Show an archived chat transcript",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			storage, err := cfg.newStorage(ctx, archiveBucket)
			if err != nil {
				return err
			}

			transcript, err := chat.LoadTranscript(ctx, storage, model.SessionID(sessionID))
			if err != nil {
				return goerr.Wrap(err, "failed to load transcript")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Session %s (%s - %s)\n\n",
				transcript.ID,
				transcript.CreatedAt.Format("2006-01-02 15:04:05"),
				transcript.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
			for _, e := range transcript.Entries {
				fmt.Fprintf(w, "[%s] %s\n", e.Role, e.Content)
				if e.Image != "" {
					fmt.Fprintf(w, "  evidence: %s (score %.2f)\n", e.Image, e.Score)
				}
			}
			return nil
		},
	}
}
