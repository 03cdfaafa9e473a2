package cmd

import (
	"errors"
	"fmt"

	"feedview/models"
	"feedview/viewer"

	"github.com/urfave/cli/v2"
)

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a card image and copy its share text",
		ArgsUsage: "<item id>",
		Description: `Resolves the thumbnail of a feed item the same way view does, saves it
as an image file and places "<title>: <url>" on the system clipboard.

Unlike view, failures are reported and the command exits non-zero.`,
		Flags: append(clientFlags(),
			&cli.StringFlag{
				Name:    "dir",
				Value:   ".",
				Usage:   "Directory the card image is written to, empty to skip the image",
				EnvVars: []string{"FEEDVIEW_EXPORT_DIR"},
			},
			&cli.BoolFlag{
				Name:  "copy",
				Value: true,
				Usage: "Copy the share text to the clipboard",
			},
		),
		Action: func(ctx *cli.Context) error {
			id := ctx.Args().First()
			if id == "" {
				return errors.New("an item id is required")
			}

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			item, err := s.client.FetchItem(ctx.Context, id)
			if err != nil {
				return err
			}

			cards := s.renderer(1).Cards(ctx.Context, []models.FeedItem{item})
			exporter := &viewer.Exporter{}
			result, err := exporter.Export(ctx.Context, cards[0], ctx.String("dir"), ctx.Bool("copy"))
			if err != nil {
				return err
			}

			if result.Path != "" {
				fmt.Fprintf(ctx.App.Writer, "saved %s\n", result.Path)
			}
			if result.Copied {
				fmt.Fprintf(ctx.App.Writer, "copied %q\n", result.ShareText)
			} else {
				fmt.Fprintln(ctx.App.Writer, result.ShareText)
			}
			return nil
		},
	}
}
