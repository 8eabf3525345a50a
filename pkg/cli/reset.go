package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func resetCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "reset",
		Usage: "Start a new scenario: delete user and assistant memories, keep system reports and images",
		Flags: storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			store, err := cfg.newVectorStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(ctx, store)

			err = store.DeleteByFilter(ctx, model.MemoryCollectionName, model.ConversationalFilter())
			switch {
			case errors.Is(err, model.ErrCollectionNotFound):
				fmt.Fprintf(c.Root().Writer, "Collection %s does not exist, nothing to clear.\n", model.MemoryCollectionName)
				return nil
			case err != nil:
				return goerr.Wrap(err, "failed to clear conversational memory")
			}

			fmt.Fprintf(c.Root().Writer, "Short-term memory wiped.\n")
			return nil
		},
	}
}
