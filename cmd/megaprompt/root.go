package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"megaprompt/internal/cache/disk"
	"megaprompt/internal/checkpoint"
	"megaprompt/internal/config"
	"megaprompt/internal/engine"
	"megaprompt/internal/export"
	"megaprompt/internal/provider"
	"megaprompt/internal/respcache"
)

// app carries the resolved configuration shared by all subcommands.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "megaprompt",
		Short:         "Generate and analyze build-ready mega prompts from project ideas and codebases",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newGenerateCmd(a),
		newAnalyzeCmd(a),
		newScanCmd(a),
		newRunsCmd(a),
		newCacheCmd(a),
	)
	return root
}

// newEngine opens the configured provider and assembles the pipeline engine.
// The returned closer releases the provider and checkpoint backend.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, func(), error) {
	reg := provider.DefaultRegistry(a.cfg.Provider.Model)
	gw, err := reg.Open(ctx, a.cfg.Provider.Name)
	if err != nil {
		return nil, nil, err
	}
	// Each attempt gets its own timeout beneath the retry, so a slow call
	// is retried instead of killing the whole stage.
	gw = provider.Chain(gw,
		provider.Retry(3, 300*time.Millisecond),
		provider.Timeout(a.cfg.Provider.Timeout),
	)

	cache, err := a.newCache()
	if err != nil {
		gw.Close()
		return nil, nil, err
	}

	cps, closeCps, err := a.checkpointStore(ctx)
	if err != nil {
		gw.Close()
		return nil, nil, err
	}

	e := &engine.Engine{
		Provider: gw,
		Params: provider.Params{
			Model:       a.cfg.Provider.Model,
			Temperature: a.cfg.Provider.Temperature,
			Seed:        a.cfg.Provider.Seed,
		},
		Cache:        cache,
		Checkpoints:  cps,
		MaxRepairs:   a.cfg.Engine.MaxRepairs,
		StageTimeout: a.cfg.Engine.StageTimeout,
	}
	closer := func() {
		gw.Close()
		closeCps()
	}
	return e, closer, nil
}

func (a *app) newCache() (*respcache.Cache, error) {
	cfg := respcache.Config{
		MaxEntries: a.cfg.Cache.MemoryEntries,
		TTL:        a.cfg.Cache.TTL,
	}
	if !a.cfg.Cache.DisableDisk {
		store, err := disk.New(disk.Config{
			Root:       a.cfg.Cache.Dir,
			MaxEntries: a.cfg.Cache.DiskEntries,
			MaxBytes:   a.cfg.Cache.DiskBytes,
			TTL:        a.cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open cache dir %s: %w", a.cfg.Cache.Dir, err)
		}
		cfg.Disk = store
	}
	return respcache.New(cfg), nil
}

func (a *app) checkpointStore(ctx context.Context) (checkpoint.Store, func(), error) {
	switch a.cfg.Checkpoint.Backend {
	case "postgres":
		pg, err := checkpoint.NewPGStore(ctx, a.cfg.Checkpoint.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		fs, err := checkpoint.NewFSStore(a.cfg.Checkpoint.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

func (a *app) exportStore() (export.Store, error) {
	switch a.cfg.Export.Backend {
	case "s3":
		return export.NewS3Store(export.S3Config{
			Endpoint:  a.cfg.Export.S3Endpoint,
			Region:    a.cfg.Export.S3Region,
			AccessKey: a.cfg.Export.S3AccessKey,
			SecretKey: a.cfg.Export.S3SecretKey,
			Bucket:    a.cfg.Export.S3Bucket,
			UseSSL:    a.cfg.Export.S3UseSSL,
		})
	default:
		return export.NewFSStore(a.cfg.Export.Dir)
	}
}
