package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"docqa/internal/catalog"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/llm"
	"docqa/internal/logutil"
	"docqa/internal/readers"
	"docqa/internal/retrieval"
	"docqa/internal/service"
	"docqa/internal/snapshot"
	"docqa/internal/summarizer"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	engine  *retrieval.Engine
	readers *readers.Registry
	svc     *service.DocQAService
	closers []io.Closer
}

type appOptions struct {
	// quiet disables console logging, for commands that own the terminal or stdout.
	quiet bool
}

func newApp(configPath string, opts appOptions) (*app, error) {
	var (
		cfg  *config.AppConfig
		path = configPath
		err  error
	)
	if configPath == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.quiet {
		cfg.Log.Console = false
	}
	logger, err := logutil.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config", path), zap.String("snapshot_store", cfg.Snapshot.Type))

	a := &app{cfg: cfg, logger: logger}
	store, err := snapshot.New(cfg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.engine, err = retrieval.New(store,
		retrieval.WithMaxChunks(cfg.Index.MaxChunks),
		retrieval.WithLogger(logger.Named("retrieval")))
	if err != nil {
		a.Close()
		return nil, err
	}

	repo, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, repo)

	ch, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap, cfg.Index.MaxChunks)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.readers = readers.Default(cfg.Ingest.MaxRawChars)

	svcOpts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithSettings(service.Settings{
			TopK:             cfg.Index.TopK,
			Citations:        cfg.Answer.Citations,
			EvidenceChars:    cfg.Answer.EvidenceChars,
			SummarySentences: cfg.Answer.MaxSentences,
			MaxBytes:         cfg.Ingest.MaxBytes,
		}),
	}
	client, err := llm.NewClient(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKeyEnv:         cfg.LLM.APIKeyEnv,
		Model:             cfg.LLM.Model,
		Timeout:           time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	switch {
	case errors.Is(err, domain.ErrLLMUnavailable):
		logger.Info("language model not configured, answers use extraction rules", zap.String("api_key_env", cfg.LLM.APIKeyEnv))
	case err != nil:
		a.Close()
		return nil, err
	default:
		svcOpts = append(svcOpts, service.WithGenerator(client))
	}

	a.svc = service.NewDocQAService(repo, a.engine, a.readers, ch,
		summarizer.NewFrequencySummarizer(),
		summarizer.NewRuleEngine(cfg.Answer.MaxSentences),
		svcOpts...)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// withApp wires the application, runs fn and releases resources afterwards.
func withApp(ctx context.Context, configPath string, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(configPath, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(logutil.With(ctx, zap.String("version", version)), a)
}
