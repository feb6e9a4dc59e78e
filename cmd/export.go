package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/wegman-software/trailgraph/internal/export"
	"github.com/wegman-software/trailgraph/internal/storage"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export <region-id>",
	Short: "Export a region's routing graph to Parquet",
	Long: `Write a finished region's graph as two Parquet files:

  <region-id>_nodes.parquet (osm_id, lat, lon, edge_count)
  <region-id>_edges.parquet (from_id, to_id, distance_m, way_type, surface, bidirectional)`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportDir, "output-dir", "o", ".", "Directory for the Parquet files")
}

func runExport(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		exitWithError("failed to open storage", err)
	}
	defer store.Close()

	regionID := args[0]
	meta, err := store.GetRegion(ctx, regionID)
	if err != nil {
		exitWithError("failed to fetch region", err)
	}
	if meta == nil || !meta.IsComplete {
		exitWithError("region is not fully downloaded", nil)
	}

	if err := export.Region(ctx, store, regionID, exportDir); err != nil {
		exitWithError("export failed", err)
	}
}
