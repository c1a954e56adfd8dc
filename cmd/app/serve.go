package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		addr     string
		products []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent, search, image and post endpoints over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.start(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			// Mostly for the in-memory index, which starts empty.
			if len(products) > 0 {
				n, err := a.ingest(cmd.Context(), products, 0, 0)
				if err != nil {
					return err
				}
				a.logger.Info("catalog preloaded", zap.Int("products", n))
			}

			srv, err := server.New(server.Options{
				Agent:           a.agent,
				Searcher:        a.searcher,
				Images:          a.images,
				Writer:          a.writer,
				Advisor:         a.advisor,
				Gatherer:        a.registry,
				MaxImageUploads: a.cfg.Server.MaxImageUploads,
				Logger:          a.logger.Named("http"),
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return srv.Run(cmd.Context(), addr, a.cfg.Server.ShutdownTimeout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringSliceVar(&products, "products", nil, "scraper JSON files to ingest before serving")
	return cmd
}

// ingest loads, embeds and upserts the products in paths.
func (a *app) ingest(ctx context.Context, paths []string, batch, concurrency int) (int, error) {
	items, err := catalog.LoadProducts(paths...)
	if err != nil {
		return 0, err
	}
	dim := a.cfg.Embedder.Dimensions
	if dim <= 0 && len(items) > 0 {
		probe, err := a.embedder.Embed(ctx, catalog.ProductToText(items[0]))
		if err != nil {
			return 0, err
		}
		dim = len(probe)
	}
	if err := a.ensureSchema(ctx, dim); err != nil {
		return 0, err
	}
	ingester, err := catalog.NewIngester(catalog.IngestOptions{
		Embedder:    a.embedder,
		Index:       a.index,
		BatchSize:   batch,
		Concurrency: concurrency,
		Logger:      a.logger,
	})
	if err != nil {
		return 0, err
	}
	return ingester.Ingest(ctx, items)
}
