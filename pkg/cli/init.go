package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/urfave/cli/v3"
)

func initCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "init",
		Usage: "Create the vector collections if they do not exist",
		Flags: storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			store, err := cfg.newVectorStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(ctx, store)

			if err := repository.Bootstrap(ctx, store); err != nil {
				return err
			}

			for _, spec := range model.DefaultCollections() {
				fmt.Fprintf(c.Root().Writer, "%s\t%d\t%s\n", spec.Name, spec.Dimension, spec.Distance)
			}
			return nil
		},
	}
}
