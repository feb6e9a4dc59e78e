package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/trailgraph/internal/logger"
	"github.com/wegman-software/trailgraph/internal/pipeline"
	"github.com/wegman-software/trailgraph/internal/storage"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <region-id>",
	Short: "Resume an interrupted or failed region download",
	Long: `Continue a region download from its persisted checkpoint. Interrupted
downloads continue from the phase they were in; failed downloads restart
from the download phase.

Use "trailgraph regions" to list resumable region ids.`,
	Args: cobra.ExactArgs(1),
	Run:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringSliceVar(&cfg.Endpoints, "endpoint", cfg.Endpoints, "Overpass API endpoints, tried in order")
	resumeCmd.Flags().StringVar(&cfg.ProfileFile, "profile", "", "YAML way classification profile")
	resumeCmd.Flags().StringVar(&cfg.LuaScript, "lua-script", "", "Lua script with a classify_way override")
}

func runResume(cmd *cobra.Command, args []string) {
	regionID := args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
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

	stats, err := mgr.ResumeRegion(ctx, regionID, func(frac float64, msg string) {
		fmt.Printf("[%s] %5.1f%% %s\n", regionID, frac*100, msg)
	})
	if err != nil {
		fmt.Println(pipeline.UserMessage(err))
		exitWithError("resume did not complete", err)
	}

	log.Info("Region done",
		zap.String("region", regionID),
		zap.Int64("nodes", stats.NodeCount),
		zap.Int64("edges", stats.EdgeCount))
}
