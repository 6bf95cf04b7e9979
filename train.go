// Package subtok trains a subword tokenizer vocabulary: it sweeps a
// corpus into a frequency trie, flattens that into a candidate token
// graph, runs the simulated-annealing selector against the target
// vocabulary size, and emits the ranked token list. Everything outside
// this pipeline — file discovery, cache persistence, the forward
// tokenizer — plugs in through the corpus.Reader and io.Reader/Writer
// seams.
package subtok

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/subtok/vocab/config"
	"github.com/subtok/vocab/corpus"
	"github.com/subtok/vocab/internal/emit"
	"github.com/subtok/vocab/internal/extractor"
	"github.com/subtok/vocab/internal/normalize"
	"github.com/subtok/vocab/internal/progress"
	"github.com/subtok/vocab/internal/selector"
	"github.com/subtok/vocab/pkg/vocab"
	"github.com/subtok/vocab/vocabcache"
)

// TrainOptions bundles one run's configuration and its external seams.
type TrainOptions struct {
	// Config holds the named training options; zero fields fall back
	// to config.Default() values.
	Config config.Config
	// Cache, when non-nil and Config.Rebuild is false, is tried as a
	// candidates cache before extraction. A rejected cache falls back
	// to extraction silently (logged, not an error).
	Cache io.Reader
	// CacheOut, when non-nil, receives the freshly extracted candidate
	// array in the binary cache format. Unused when the cache was
	// accepted.
	CacheOut io.Writer
	// Control is polled at pass boundaries; a line of input stops the
	// selector.
	Control io.Reader
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Reporter receives per-pass snapshots; created internally when
	// nil and a status server is configured.
	Reporter *progress.Reporter
	// Patterns overrides the default masking rules when
	// Config.Normalize is set.
	Patterns *normalize.Set
	// MutexPoolSize overrides the token graph's mutex pool size;
	// <= 0 uses vocab.DefaultMutexPoolSize.
	MutexPoolSize int
}

// TrainResult is what a finished run hands back to the caller.
type TrainResult struct {
	// Solution is the ordered token list: selected multi-character
	// tokens by descending utility, then every single-code-point root.
	Solution []string
	// FromCache reports whether candidates came from the supplied
	// cache instead of a fresh extraction.
	FromCache bool
	// Stats is the selector's final state.
	Stats selector.Result
}

// Train runs the full pipeline over r. The only fatal errors are a
// failed corpus read, a corpus that produced zero readable entries and
// a failed cache write; rejected caches and skipped corpus entries are
// logged and recovered from.
func Train(ctx context.Context, r corpus.Reader, opts TrainOptions) (*TrainResult, error) {
	cfg := withDefaults(opts.Config)
	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}

	tokens, fromCache, err := loadCandidates(ctx, r, cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	if !fromCache && opts.CacheOut != nil {
		if err := vocabcache.Encode(opts.CacheOut, tokens); err != nil {
			return nil, err
		}
	}

	poolSize := opts.MutexPoolSize
	if poolSize <= 0 {
		poolSize = vocab.DefaultMutexPoolSize
	}
	graph := vocab.NewGraph(tokens, poolSize)
	logger.Info("candidate graph built",
		"tokens", graph.Len(),
		"roots", graph.RootCount(),
		"candidates", graph.CandidateCount(),
		"from_cache", fromCache)

	reporter := opts.Reporter
	if reporter == nil && cfg.StatusAddr != "" {
		reporter = progress.NewReporter()
	}
	var server *progress.Server
	if cfg.StatusAddr != "" {
		server = progress.NewServer(cfg.StatusAddr, reporter)
		go func() {
			if err := server.Start(); err != nil {
				logger.Warn("status server stopped", "error", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	sel := selector.New(graph, selector.Options{
		PrefTokenCount: cfg.PrefTokenCount,
		BatchSize:      cfg.BatchSize,
		PassCount:      cfg.PassCount,
		Control:        opts.Control,
		Log:            logger,
		Reporter:       reporter,
	})
	stats := sel.Run(ctx)

	return &TrainResult{
		Solution:  emit.Solution(graph),
		FromCache: fromCache,
		Stats:     stats,
	}, nil
}

func loadCandidates(ctx context.Context, r corpus.Reader, cfg config.Config, opts TrainOptions, logger *slog.Logger) ([]vocab.Token, bool, error) {
	if opts.Cache != nil && !cfg.Rebuild {
		tokens, err := vocabcache.Decode(opts.Cache)
		if err == nil {
			return tokens, true, nil
		}
		if !errors.Is(err, vocabcache.ErrCacheRejected) {
			return nil, false, err
		}
		logger.Info("candidates cache rejected, re-extracting", "error", err)
	}

	var patterns *normalize.Set
	if cfg.Normalize {
		patterns = opts.Patterns
		if patterns == nil {
			patterns = normalize.Default()
		}
	}

	tokens, err := extractor.Run(ctx, corpus.Limit(r, cfg.FileLimit), extractor.Options{
		MaxLen:    cfg.MaxLen,
		Log:       logger,
		Normalize: patterns,
	})
	if err != nil {
		return nil, false, err
	}
	return tokens, false, nil
}

// withDefaults fills zero-valued fields from config.Default, so a
// caller-constructed Config only needs to set what it cares about.
func withDefaults(cfg config.Config) config.Config {
	def := config.Default()
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = def.MaxLen
	}
	if cfg.PrefTokenCount <= 0 {
		cfg.PrefTokenCount = def.PrefTokenCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return cfg
}
