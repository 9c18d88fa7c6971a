// loomchat - Terminal chat for locally hosted LLMs via Ollama.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/loomchat/internal/cli"
	"github.com/jeranaias/loomchat/internal/config"
	"github.com/jeranaias/loomchat/internal/logging"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
	"github.com/jeranaias/loomchat/internal/pipeline"
	"github.com/jeranaias/loomchat/internal/turn"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loomchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to config file (default ~/.loomchat/config.toml)")
		modelFlag   = flag.String("model", "", "override the default model for this session")
		dbFlag      = flag.String("db", "", "override the chat database path")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("loomchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return nil
	}

	// =========================================================================
	// CONFIGURATION
	// =========================================================================

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *modelFlag != "" {
		cfg.DefaultModel = *modelFlag
	}
	if *dbFlag != "" {
		cfg.Persist.DBPath = *dbFlag
	}
	config.SetGlobal(cfg)

	// Quiet keeps log noise out of the chat transcript; the dated JSON
	// file under log.dir still receives everything.
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		LogDir: cfg.Log.Dir,
		Quiet:  true,
	})
	defer log.Close()
	logging.SetDefault(log)

	log.Info("starting loomchat",
		"version", Version,
		"model", cfg.DefaultModel,
		"ollama_url", cfg.Ollama.URL)

	// =========================================================================
	// STORAGE
	// =========================================================================

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	store, err := persist.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer store.Close()

	coordinator := persist.NewCoordinator(persist.Windows{
		Message:     time.Duration(cfg.Persist.MessageWindowMs) * time.Millisecond,
		MessageList: time.Duration(cfg.Persist.MessageListWindowMs) * time.Millisecond,
		ChatMeta:    time.Duration(cfg.Persist.ChatMetaWindowMs) * time.Millisecond,
	}, log.Logger)
	defer coordinator.Close()

	// =========================================================================
	// OLLAMA CLIENT AND SIDE PIPELINES
	// =========================================================================

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:   cfg.Ollama.URL,
		Timeout:   time.Duration(cfg.Ollama.RequestTimeoutSecs) * time.Second,
		KeepAlive: cfg.Ollama.KeepAlive,
	})

	links := pipeline.NewLinkFetcher()
	searcher := pipeline.NewSearcher(cfg.Search.Endpoint, client, cfg.Search.QueryModel, links)
	retriever := pipeline.NewRetriever(client, store, cfg.Retrieval.EmbedModel)

	memoryModel := cfg.Memory.Model
	if memoryModel == "" {
		memoryModel = cfg.DefaultModel
	}
	summarizer := pipeline.NewSummarizer(client, memoryModel)

	pipes := turn.SidePipelines{
		FetchLinks: links.FetchLinks,
		Search: func(ctx context.Context, userText string) (string, error) {
			return searcher.Search(ctx, userText, pipeline.SearchOptions{
				FollowLinks: cfg.Search.FollowLinks,
			})
		},
		Retrieve: func(ctx context.Context, query string, documentIDs []string) (string, error) {
			return retriever.Retrieve(ctx, query, documentIDs, cfg.Retrieval.MaxChunks)
		},
		MemorySummary: summarizer.MemorySummary,
	}

	// =========================================================================
	// REPL
	// =========================================================================

	app := cli.New(cli.Options{
		Config:      cfg,
		Log:         log.Logger,
		Store:       store,
		Coordinator: coordinator,
		Client:      client,
		Pipelines:   pipes,
	})

	// Hot reload applies config file edits without a restart. A missing
	// file is fine; the watcher simply is not started.
	watchPath := *configPath
	if watchPath == "" {
		if p, pathErr := config.Path(); pathErr == nil {
			watchPath = p
		}
	}
	if watchPath != "" {
		if _, statErr := os.Stat(watchPath); statErr == nil {
			watcher, watchErr := config.Watch(watchPath, log.Logger, app.ApplyConfig)
			if watchErr != nil {
				log.Warn("config watch unavailable", "error", watchErr)
			} else {
				defer watcher.Close()
			}
		}
	}

	return app.Run(context.Background())
}
