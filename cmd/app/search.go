package main

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/promo-agent/src/server"
	"github.com/Protocol-Lattice/promo-agent/src/toon"
)

func newSearchCmd(flags *rootFlags) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		catalog []string
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run a catalog search without the model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.start(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if len(catalog) > 0 {
				if _, err := a.ingest(cmd.Context(), catalog, 0, 0); err != nil {
					return err
				}
			}

			out := a.searcher.Search(cmd.Context(), strings.Join(args, " "), limit)
			if out.Err != nil {
				return out.Err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out.Products, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(data))
				return nil
			}
			encoded, err := toon.Encode(map[string]any{"products": out.Products})
			if err != nil {
				return err
			}
			fmt.Fprintln(w, encoded)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", server.DefaultSearchLimit, "maximum number of products")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of the compact listing")
	cmd.Flags().StringSliceVar(&catalog, "products", nil, "scraper JSON files to ingest first (in-memory index)")
	return cmd
}
