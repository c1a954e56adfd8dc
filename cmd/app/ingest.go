package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var batch, concurrency int
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Embed scraped products and upload them to the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.start(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			n, err := a.ingest(cmd.Context(), args, batch, concurrency)
			if err != nil {
				return fmt.Errorf("ingest: %w (wrote %d)", err, n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d products to %s\n", n, a.cfg.Index.Collection)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "products per upsert")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "concurrent embedding calls per batch")
	return cmd
}
