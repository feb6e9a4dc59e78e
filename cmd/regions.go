package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wegman-software/trailgraph/internal/pipeline"
	"github.com/wegman-software/trailgraph/internal/storage"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List downloaded regions and in-flight downloads",
	Run:   runRegions,
}

var regionsDeleteCmd = &cobra.Command{
	Use:   "delete <region-id>",
	Short: "Remove a region's graph data and download state",
	Args:  cobra.ExactArgs(1),
	Run:   runRegionsDelete,
}

var regionsStatusCmd = &cobra.Command{
	Use:   "status <region-id>",
	Short: "Show detailed status for one region",
	Args:  cobra.ExactArgs(1),
	Run:   runRegionsStatus,
}

func init() {
	rootCmd.AddCommand(regionsCmd)
	regionsCmd.AddCommand(regionsDeleteCmd)
	regionsCmd.AddCommand(regionsStatusCmd)
}

func openManager(ctx context.Context) (*pipeline.Manager, storage.Store) {
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		exitWithError("failed to open storage", err)
	}
	mgr, err := pipeline.NewManager(cfg, store)
	if err != nil {
		store.Close()
		exitWithError("failed to build pipeline", err)
	}
	return mgr, store
}

func runRegions(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	mgr, store := openManager(ctx)
	defer store.Close()

	regions, err := mgr.ListRegions(ctx)
	if err != nil {
		exitWithError("failed to list regions", err)
	}
	states, err := mgr.ListStates(ctx)
	if err != nil {
		exitWithError("failed to list download states", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tNAME\tSTATUS\tNODES\tEDGES")
	for _, r := range regions {
		fmt.Fprintf(w, "%s\t%s\tcomplete\t%d\t%d\n",
			r.RegionID, r.DisplayName, r.NodeCount, r.EdgeCount)
	}
	for _, st := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d/%d\n",
			st.RegionID, st.DisplayName, st.Phase,
			st.NodesProcessed, st.TotalNodes,
			st.EdgesProcessed, st.TotalEdges)
	}
	w.Flush()
}

func runRegionsDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	mgr, store := openManager(ctx)
	defer store.Close()

	if err := mgr.DeleteRegion(ctx, args[0]); err != nil {
		exitWithError("failed to delete region", err)
	}
	fmt.Printf("Region %s deleted.\n", args[0])
}

func runRegionsStatus(cmd *cobra.Command, args []string) {
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
	if meta != nil {
		fmt.Printf("Region:  %s (%s)\n", meta.RegionID, meta.DisplayName)
		fmt.Printf("Bounds:  %.4f,%.4f to %.4f,%.4f\n",
			meta.Bounds.MinLat, meta.Bounds.MinLon, meta.Bounds.MaxLat, meta.Bounds.MaxLon)
		fmt.Printf("Status:  complete\n")
		fmt.Printf("Nodes:   %d\n", meta.NodeCount)
		fmt.Printf("Edges:   %d\n", meta.EdgeCount)
		fmt.Printf("Created: %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		return
	}

	st, err := store.LoadState(ctx, regionID)
	if err != nil {
		exitWithError("failed to load download state", err)
	}
	if st == nil {
		exitWithError(fmt.Sprintf("no region %q", regionID), nil)
	}
	fmt.Printf("Region:  %s (%s)\n", st.RegionID, st.DisplayName)
	fmt.Printf("Phase:   %s\n", st.Phase)
	fmt.Printf("Nodes:   %d/%d\n", st.NodesProcessed, st.TotalNodes)
	fmt.Printf("Ways:    %d/%d\n", st.EdgesProcessed, st.TotalEdges)
	fmt.Printf("Started: %s\n", st.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Updated: %s\n", st.LastUpdatedAt.Format("2006-01-02 15:04:05 MST"))
}
