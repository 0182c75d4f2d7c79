package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"replydraft/internal/ingest"
	"replydraft/internal/util"
	"replydraft/internal/vectorindex"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		source          string
		chunkSize       int
		overlap         int
		indexEndpoint   string
		deployedIndexID string
		watch           bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index a folder of documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if indexEndpoint == "" {
				indexEndpoint = a.cfg.Index.Endpoint
			}
			if indexEndpoint == "" {
				return fmt.Errorf("--index-endpoint is required")
			}
			if deployedIndexID == "" {
				deployedIndexID = a.cfg.Index.DeployedIndexID
			}
			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = a.cfg.Ingest.ChunkSize
			}
			if !cmd.Flags().Changed("overlap") {
				overlap = a.cfg.Ingest.Overlap
			}
			if overlap < 0 || overlap >= chunkSize {
				return fmt.Errorf("--overlap must be in [0, chunk-size)")
			}

			idx, err := vectorindex.Open(indexEndpoint, deployedIndexID)
			if err != nil {
				return err
			}
			defer idx.Close()

			in := ingest.New(a.llm(), idx, ingest.Options{
				ChunkSize: chunkSize,
				Overlap:   overlap,
				BatchSize: a.cfg.Ingest.BatchSize,
			}, a.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, err := in.Run(ctx, source)
			if err != nil {
				return err
			}
			total, _ := idx.Count(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Upserted %d chunks from %d files into %s (%d skipped, %d in index)\n",
				stats.Chunks, stats.Files, util.NormalizeIndexID(deployedIndexID), stats.Skipped, total)

			if watch {
				return in.Watch(ctx, source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "docs/kb", "folder of .txt/.md/.markdown/.rst/.pdf/.docx files")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", ingest.DefaultChunkSize, "chunk size in characters")
	cmd.Flags().IntVar(&overlap, "overlap", ingest.DefaultOverlap, "overlap between chunks in characters")
	cmd.Flags().StringVar(&indexEndpoint, "index-endpoint", "", "vector index database (sqlite path)")
	cmd.Flags().StringVar(&deployedIndexID, "deployed-index-id", "", "index namespace; normalized to [a-zA-Z][a-zA-Z0-9_]*")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and reindex files as they change")
	return cmd
}
