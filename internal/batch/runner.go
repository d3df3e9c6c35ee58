package batch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"comfy-studio/internal/analyzer"
	"comfy-studio/internal/executor"
	"comfy-studio/internal/promptgen"
	"comfy-studio/internal/store"
)

// Item is one queued generation: a prompt (or a report file to re-read it
// from) and the labels used for progress reporting and bookkeeping.
type Item struct {
	TrendID    string `json:"trend_id,omitempty"`
	Label      string `json:"label"`
	Prompt     string `json:"prompt,omitempty"`
	Negative   string `json:"negative,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// Options are the fixed generation parameters applied to every item.
// A fresh random seed is drawn per item.
type Options struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Steps  int `json:"steps"`
}

// Progress is emitted before each item is executed.
type Progress struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

// ItemResult is emitted after each item finishes.
type ItemResult struct {
	Type       string   `json:"type"`
	Label      string   `json:"label"`
	Status     string   `json:"status"`
	Diagnostic string   `json:"diagnostic,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

// Complete is emitted once per batch, stop or not.
type Complete struct {
	Type      string `json:"type"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Stopped   bool   `json:"stopped"`
}

const (
	EventProgress = "batch_progress"
	EventItem     = "batch_item"
	EventComplete = "batch_complete"
)

// Runner executes batches of script invocations sequentially. It is meant
// to run on a dedicated goroutine; it reports back only through the emit
// callback and never touches caller state.
type Runner struct {
	analyzer *analyzer.Analyzer
	engine   *executor.Engine
	store    store.Store // optional run bookkeeping
	logger   *slog.Logger

	running atomic.Bool
	stop    atomic.Bool
}

// NewRunner creates a batch runner. The store may be nil to skip run
// bookkeeping.
func NewRunner(a *analyzer.Analyzer, e *executor.Engine, st store.Store, logger *slog.Logger) *Runner {
	return &Runner{
		analyzer: a,
		engine:   e,
		store:    st,
		logger:   logger.With("component", "batch"),
	}
}

// Running reports whether a batch is currently executing.
func (r *Runner) Running() bool { return r.running.Load() }

// RequestStop asks the current batch to stop. The signal is observed
// between invocations; there is no mid-invocation cancellation because
// interrupting the generation engine partway through is unsafe.
func (r *Runner) RequestStop() { r.stop.Store(true) }

// Run executes every item against the script, emitting progress, per-item
// results, and a final completion event. An individual failure never aborts
// the batch. Returns the completion summary.
func (r *Runner) Run(ctx context.Context, scriptPath string, items []Item, opts Options, emit func(any)) Complete {
	if !r.running.CompareAndSwap(false, true) {
		return Complete{Type: EventComplete}
	}
	defer r.running.Store(false)
	r.stop.Store(false)

	if emit == nil {
		emit = func(any) {}
	}
	if opts.Width == 0 {
		opts.Width = 768
	}
	if opts.Height == 0 {
		opts.Height = 1024
	}
	if opts.Steps == 0 {
		opts.Steps = 20
	}

	scriptBase := strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath))
	summary := Complete{Type: EventComplete}

	for i, item := range items {
		if r.stop.Load() {
			summary.Stopped = true
			break
		}

		emit(Progress{Type: EventProgress, Current: i + 1, Total: len(items), Label: item.Label})

		prompt := item.Prompt
		if prompt == "" && item.ReportPath != "" {
			p, err := promptgen.ExtractPromptFromReport(item.ReportPath)
			if err != nil {
				r.logger.Warn("extract prompt", "report", item.ReportPath, "err", err)
				prompt = item.Label
			} else {
				prompt = p
			}
		}

		args := r.analyzer.ExecutionArgs(scriptBase, prompt, item.Negative, map[string]any{
			"width":  opts.Width,
			"height": opts.Height,
			"steps":  opts.Steps,
			"seed":   rand.Int64N(1<<32-1) + 1,
		})

		started := time.Now()
		outcome := r.engine.Execute(ctx, scriptPath, args)

		if outcome.Status == executor.Failed {
			summary.Failed++
			r.logger.Warn("item failed", "label", item.Label, "diagnostic", outcome.Diagnostic)
		} else {
			summary.Succeeded++
		}

		if r.store != nil {
			rec := &store.RunRecord{
				Script:     filepath.Base(scriptPath),
				TrendID:    item.TrendID,
				Prompt:     prompt,
				Status:     string(outcome.Status),
				Artifacts:  outcome.ArtifactPaths,
				Diagnostic: outcome.Diagnostic,
				StartedAt:  started,
			}
			if err := r.store.SaveRun(rec); err != nil {
				r.logger.Error("save run record", "err", err)
			}
		}

		emit(ItemResult{
			Type:       EventItem,
			Label:      item.Label,
			Status:     string(outcome.Status),
			Diagnostic: outcome.Diagnostic,
			Artifacts:  outcome.ArtifactPaths,
		})
	}

	emit(summary)
	r.logger.Info("batch complete", "succeeded", summary.Succeeded, "failed", summary.Failed, "stopped", summary.Stopped)
	return summary
}
