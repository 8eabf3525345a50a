package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/crisisops/pkg/service/api"
	"github.com/m-mizutani/crisisops/pkg/usecase/chat"
	"github.com/m-mizutani/crisisops/pkg/usecase/ingest"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func serveCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg           config
		addr          string
		imageDir      string
		archiveBucket string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("CRISISOPS_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "image-dir",
			Usage:       "Directory evidence images are served from",
			Value:       ingest.DefaultImageDir,
			Sources:     cli.EnvVars("CRISISOPS_IMAGE_DIR"),
			Destination: &imageDir,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket to archive the transcript in on shutdown",
			Sources:     cli.EnvVars("CRISISOPS_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := cfg.newClients(ctx, true)
			if err != nil {
				return err
			}
			defer closeStore(ctx, deps.store)

			input := chat.NewInput{
				Store:         deps.store,
				TextEmbedder:  deps.textEmbedder,
				ImageEmbedder: deps.imageEmbedder,
				Gemini:        deps.gemini,
			}
			if archiveBucket != "" {
				storage, err := cfg.newStorage(ctx, archiveBucket)
				if err != nil {
					return err
				}
				input.Storage = storage
			}

			session, err := chat.New(ctx, input)
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			if err := api.New(session, api.WithImageDir(imageDir)).Run(ctx, addr); err != nil {
				return err
			}

			// ctx is cancelled by now
			if err := session.Archive(context.WithoutCancel(ctx)); err != nil {
				logging.From(ctx).Error("failed to archive transcript", "error", err)
			}
			return nil
		},
	}
}
