package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/crisisops/pkg/usecase/ingest"
	"github.com/urfave/cli/v3"
)

func ingestCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg      config
		imageDir string
		logFile  string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "image-dir",
			Usage:       "Directory of captioned images (.jpg, .jpeg, .png)",
			Value:       ingest.DefaultImageDir,
			Sources:     cli.EnvVars("CRISISOPS_IMAGE_DIR"),
			Destination: &imageDir,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Text file with one situation report per line",
			Value:       ingest.DefaultLogFile,
			Sources:     cli.EnvVars("CRISISOPS_LOG_FILE"),
			Destination: &logFile,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Bulk load images and situation reports into the vector store",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			deps, err := cfg.newClients(ctx, false)
			if err != nil {
				return err
			}
			defer closeStore(ctx, deps.store)

			uc := ingest.New(deps.store, deps.textEmbedder, deps.imageEmbedder,
				ingest.WithImageDir(imageDir),
				ingest.WithLogFile(logFile),
			)
			report, ingestErr := uc.Ingest(ctx)
			if report != nil {
				printReport(c, imageDir, logFile, report)
			}
			return ingestErr
		},
	}
}

func printReport(c *cli.Command, imageDir, logFile string, report *ingest.Report) {
	w := c.Root().Writer
	if report.ImageDirFound {
		fmt.Fprintf(w, "Images:    found %d, uploaded %d, skipped %d\n",
			report.ImagesFound, report.ImagesUploaded, report.ImagesSkipped)
	} else {
		fmt.Fprintf(w, "Images:    folder %q not found\n", imageDir)
	}
	if report.LogFileFound {
		fmt.Fprintf(w, "Text logs: found %d, uploaded %d, skipped %d\n",
			report.LogsFound, report.LogsUploaded, report.LogsSkipped)
	} else {
		fmt.Fprintf(w, "Text logs: file %q not found\n", logFile)
	}
}
