package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corelane/coreindexer/internal/config"
	"github.com/corelane/coreindexer/internal/logger"
	"github.com/corelane/coreindexer/internal/metrics"
	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/coreio/filecore"
	"github.com/corelane/coreindexer/pkg/indexer"
)

const version = "0.1.0"

var (
	configPath string
	inputDir   string
	outputPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "coreindexer",
	Short:   "coreindexer drains a set of append-only cores into a batch consumer",
	Version: version,
	RunE:    runIndex,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().StringVarP(&inputDir, "input", "i", ".", "directory of flat log files, one core per file")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "-",
		"where indexed entries are appended, as JSON lines (\"-\" for stdout)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var logCfg logger.LoggingConfig
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}
	log := logger.NewComponentLoggerFromConfig("indexer", logCfg)
	defer log.Close()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer metricsServer.Stop(context.Background())
	}

	factory, closeStorage, err := cfg.StorageFactory()
	if err != nil {
		return fmt.Errorf("failed to build storage factory: %w", err)
	}
	defer closeStorage()

	cores, err := loadCores(inputDir)
	if err != nil {
		return fmt.Errorf("failed to load cores from %s: %w", inputDir, err)
	}

	out, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()
	enc := json.NewEncoder(out)

	batch := func(ctx context.Context, entries []coreio.Entry) error {
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	idx, err := indexer.New(ctx, cores, indexer.Options{
		Batch:          batch,
		StorageFactory: factory,
		MaxBatch:       cfg.Batch.MaxSize,
		Reindex:        cfg.Batch.Reindex,
		Encoding:       cfg.Batch.CoreEncoding(),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to start indexer: %w", err)
	}

	log.Infow("indexing started", "cores", len(cores))
	if err := idx.Idle(ctx); err != nil {
		_ = idx.Close(ctx)
		return fmt.Errorf("indexing interrupted: %w", err)
	}
	log.Infow("indexing reached idle")

	return idx.Close(ctx)
}

func loadCores(dir string) ([]coreio.Core, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var cores []coreio.Core
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c, err := filecore.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		cores = append(cores, c)
	}
	return cores, nil
}

type closableWriter struct {
	*os.File
	closeable bool
}

func (w closableWriter) Close() error {
	if !w.closeable {
		return nil
	}
	return w.File.Close()
}

func openOutput(path string) (closableWriter, error) {
	if path == "-" {
		return closableWriter{File: os.Stdout, closeable: false}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return closableWriter{}, err
	}
	return closableWriter{File: f, closeable: true}, nil
}
