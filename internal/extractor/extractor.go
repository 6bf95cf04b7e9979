// Package extractor implements Candidate Extraction: sweeping a
// corpus into worker tries, merging them into one global trie, and
// flattening that trie into the token array the annealing selector
// mutates.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/subtok/vocab/corpus"
	"github.com/subtok/vocab/internal/normalize"
	"github.com/subtok/vocab/internal/taskpool"
	"github.com/subtok/vocab/pkg/trie"
	"github.com/subtok/vocab/pkg/vocab"
)

// MergeSize is the worker-trie node count above which a worker's trie
// is merged into the global trie and reset.
const MergeSize = 4_000_000

// DepWindow is the file-level dependency window: file i's task waits
// on file i-DepWindow to have completed. The extraction loop also
// uses the window to throttle itself, so that at most DepWindow
// texts' worth of memory is held by not-yet-run tasks at once.
const DepWindow = 3

// workerSlots is the number of independent worker tries live at once.
// Each slot's trie is single-threaded; exclusivity is enforced by
// workerSlot.mu, not by the dependency window (which only orders
// scheduling, and on its own does not prevent two tasks assigned the
// same slot from running concurrently on different pool goroutines).
const workerSlots = DepWindow + 1

// Options configures one extraction run.
type Options struct {
	MaxLen  int // maximum candidate length in code points
	MinFreq int64
	Pool    taskpool.Pool // nil defaults to a new taskpool.New(0)
	Log     *slog.Logger  // nil defaults to slog.Default()
	// Normalize, when non-nil, masks volatile substrings in each text
	// before its prefixes are inserted into the trie.
	Normalize *normalize.Set
	// Diagnose receives one line per skipped entry, in addition to
	// the structured log line; optional.
	Diagnose io.Writer
}

type workerSlot struct {
	mu sync.Mutex
	tr *trie.Trie
}

// Run sweeps every entry of r into one trie and flattens it. It
// returns the flattened token array; unreadable or invalid entries
// are logged and skipped, never fatal. Run returns an error only if
// reading the corpus fails (including a cancelled ctx) or the corpus
// produced zero readable entries.
func Run(ctx context.Context, r corpus.Reader, opts Options) ([]vocab.Token, error) {
	if opts.MaxLen <= 0 {
		opts.MaxLen = 1
	}
	pool := opts.Pool
	if pool == nil {
		p := taskpool.New(0)
		defer p.Close()
		pool = p
	}
	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}

	global := trie.New(opts.MinFreq)
	var mergeMu sync.Mutex
	mergeIn := func(local *trie.Trie) {
		mergeMu.Lock()
		defer mergeMu.Unlock()
		global.Merge(local, pool)
	}

	slots := make([]*workerSlot, workerSlots)
	for i := range slots {
		slots[i] = &workerSlot{tr: trie.New(opts.MinFreq)}
	}

	var readCount, skipCount int
	var window []*taskpool.Task
	fileSeq := 0

	for {
		path, text, ok, err := r.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("extractor: reading corpus: %w", err)
		}
		if !ok {
			break
		}
		if len(text) == 0 || !utf8.Valid(text) {
			skipCount++
			logger.Warn("skipping invalid entry", "path", path, "root", r.Root(), "error", corpus.ErrInvalidEntry)
			if opts.Diagnose != nil {
				fmt.Fprintf(opts.Diagnose, "skip %s: %v\n", path, corpus.ErrInvalidEntry)
			}
			continue
		}
		readCount++
		text = opts.Normalize.Apply(text)

		var dep *taskpool.Task
		if len(window) == DepWindow {
			dep = window[0]
			pool.Wait(dep) // bounds in-flight memory to DepWindow texts
			window = window[1:]
		}

		slot := slots[fileSeq%workerSlots]
		fileSeq++

		var deps []*taskpool.Task
		if dep != nil {
			deps = append(deps, dep)
		}
		task := pool.Enqueue(func() {
			slot.mu.Lock()
			defer slot.mu.Unlock()

			insertText(slot.tr, text, opts.MaxLen)

			if slot.tr.NodeCount() > MergeSize {
				local := slot.tr
				slot.tr = trie.New(opts.MinFreq)
				mergeIn(local)
			}
		}, deps...)

		window = append(window, task)
	}

	pool.Wait()

	for _, slot := range slots {
		mergeIn(slot.tr)
	}

	if readCount == 0 {
		return nil, fmt.Errorf("extractor: corpus produced zero readable entries (%d skipped)", skipCount)
	}

	logger.Info("candidate extraction complete", "entries_read", readCount, "entries_skipped", skipCount)
	return global.BuildTokens(), nil
}

func insertText(t *trie.Trie, text []byte, maxLen int) {
	runes := []rune(string(text))
	for start := range runes {
		remaining := len(runes) - start
		length := maxLen
		if remaining < length {
			length = remaining
		}
		t.AddString(runes[start:], length)
	}
}
