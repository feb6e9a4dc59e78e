package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"
	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/logger"
	"github.com/wegman-software/trailgraph/internal/pipeline"
	"github.com/wegman-software/trailgraph/internal/storage"
)

var (
	fetchBBoxes []string
	fetchNames  []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download regions and build their routing graphs",
	Long: `Download trail data for one or more bounding boxes and build the routing
graph for each. Regions are fetched concurrently; each region's pipeline is
checkpointed so an interrupted fetch resumes where it stopped.

Bounding boxes are given as minLon,minLat,maxLon,maxLat. When multiple
--bbox flags are given, --name flags pair up positionally.`,
	Run: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringArrayVar(&fetchBBoxes, "bbox", nil, "Bounding box minLon,minLat,maxLon,maxLat (repeatable)")
	fetchCmd.Flags().StringArrayVar(&fetchNames, "name", nil, "Display name for the matching --bbox (repeatable)")
	fetchCmd.Flags().StringSliceVar(&cfg.Endpoints, "endpoint", cfg.Endpoints, "Overpass API endpoints, tried in order")
	fetchCmd.Flags().StringVar(&cfg.ProfileFile, "profile", "", "YAML way classification profile")
	fetchCmd.Flags().StringVar(&cfg.LuaScript, "lua-script", "", "Lua script with a classify_way override")
	fetchCmd.MarkFlagRequired("bbox")
}

func runFetch(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
	if len(fetchNames) > len(fetchBBoxes) {
		exitWithError("more --name flags than --bbox flags", nil)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		exitWithError("failed to create data directory", err)
	}

	regions := make([]pipeline.Region, 0, len(fetchBBoxes))
	for i, raw := range fetchBBoxes {
		bounds, err := geo.ParseBounds(raw)
		if err != nil {
			exitWithError("invalid bounding box", err)
		}
		name := ""
		if i < len(fetchNames) {
			name = fetchNames[i]
		}
		regions = append(regions, pipeline.Region{
			ID:          pipeline.RegionID(name, bounds),
			DisplayName: name,
			Bounds:      bounds,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		exitWithError("failed to open storage", err)
	}
	defer store.Close()

	mgr, err := pipeline.NewManager(cfg, store)
	if err != nil {
		exitWithError("failed to build pipeline", err)
	}

	// On SIGINT/SIGTERM flush the in-flight state before cancelling so the
	// next run resumes from the latest checkpoint.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mgr.Coordinator().FlushState(flushCtx); err != nil {
			log.Warn("State flush failed", zap.Error(err))
		}
		flushCancel()
		cancel()
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		region := region
		g.Go(func() error {
			stats, err := mgr.DownloadRegion(gctx, region, func(frac float64, msg string) {
				fmt.Printf("[%s] %5.1f%% %s\n", region.ID, frac*100, msg)
			})
			if err != nil {
				log.Error("Region failed",
					zap.String("region", region.ID),
					zap.Error(err))
				fmt.Println(pipeline.UserMessage(err))
				return err
			}
			log.Info("Region done",
				zap.String("region", region.ID),
				zap.Int64("nodes", stats.NodeCount),
				zap.Int64("edges", stats.EdgeCount))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		exitWithError("fetch did not complete", err)
	}
	log.Info("All regions complete", zap.Duration("elapsed", time.Since(start).Round(time.Second)))
}
