package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func inspectCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg        config
		collection string
		role       string
		limit      int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Collection to scan",
			Value:       model.MemoryCollectionName,
			Destination: &collection,
		},
		&cli.StringFlag{
			Name:        "role",
			Usage:       "Only show memories with this role (user, assistant, system_report)",
			Destination: &role,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of points to show",
			Value:       50,
			Destination: &limit,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List points stored in a collection",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			var filter *model.Filter
			if role != "" {
				if err := model.Role(role).Validate(); err != nil {
					return err
				}
				filter = &model.Filter{Key: model.PayloadRole, Any: []string{role}}
			}

			store, err := cfg.newVectorStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(ctx, store)

			points, err := store.Scroll(ctx, collection, filter, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to scan collection", goerr.V("collection", collection))
			}

			w := c.Root().Writer
			for _, p := range points {
				switch collection {
				case model.EvidenceCollectionName:
					e := model.EvidenceFromPayload(p.ID, p.Payload)
					fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, e.Filename, e.Description)
				default:
					fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Payload.String(model.PayloadRole), p.Payload.String(model.PayloadChatText))
				}
			}
			fmt.Fprintf(w, "%d point(s)\n", len(points))
			return nil
		},
	}
}
