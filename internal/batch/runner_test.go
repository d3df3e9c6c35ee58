package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"comfy-studio/internal/analyzer"
	"comfy-studio/internal/executor"
	"comfy-studio/internal/store"
)

// echoScript records the received keywords into globals and returns no
// images, so batch tests stay off the filesystem save path.
const echoScript = `-- exported comfyui workflow
function main(args)
    last_prompt = args.text4
    return { filename_prefix = "test" }
end
`

const brokenScript = `-- exported comfyui workflow
function main(args)
    error("node graph exploded")
end
`

func newTestRunner(t *testing.T) (*Runner, *store.BoltStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewBoltStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	a := analyzer.New(filepath.Join(dir, "script_configs"), slog.Default())
	e := executor.NewEngine(executor.Config{
		EnginePaths: []string{filepath.Join(dir, "no_engine")},
		FallbackDir: filepath.Join(dir, "fallback"),
	}, slog.Default())
	return NewRunner(a, e, st, slog.Default()), st
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunEmitsProgressAndResults(t *testing.T) {
	r, st := newTestRunner(t)
	script := writeScript(t, echoScript)

	items := []Item{
		{Label: "first", Prompt: "a neon skyline"},
		{Label: "second", Prompt: "a chrome tiger"},
	}

	var progress []Progress
	var results []ItemResult
	var completes []Complete
	summary := r.Run(context.Background(), script, items, Options{}, func(ev any) {
		switch v := ev.(type) {
		case Progress:
			progress = append(progress, v)
		case ItemResult:
			results = append(results, v)
		case Complete:
			completes = append(completes, v)
		}
	})

	if summary.Succeeded != 2 || summary.Failed != 0 || summary.Stopped {
		t.Fatalf("summary = %+v, want 2 succeeded", summary)
	}
	if len(progress) != 2 || len(results) != 2 || len(completes) != 1 {
		t.Fatalf("events = %d/%d/%d, want 2/2/1", len(progress), len(results), len(completes))
	}
	if progress[0].Current != 1 || progress[0].Total != 2 || progress[0].Label != "first" {
		t.Fatalf("progress[0] = %+v", progress[0])
	}
	if results[1].Status != string(executor.SucceededNoArtifacts) {
		t.Fatalf("result status = %s", results[1].Status)
	}

	runs, err := st.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("recorded runs = %d, want 2", len(runs))
	}
	if runs[0].Prompt != "a neon skyline" && runs[1].Prompt != "a neon skyline" {
		t.Fatal("prompt not recorded")
	}
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	r, _ := newTestRunner(t)
	broken := writeScript(t, brokenScript)

	items := []Item{
		{Label: "first", Prompt: "p1"},
		{Label: "second", Prompt: "p2"},
	}
	summary := r.Run(context.Background(), broken, items, Options{}, nil)

	if summary.Failed != 2 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v, want 2 failed", summary)
	}
}

func TestRunStopBetweenItems(t *testing.T) {
	r, _ := newTestRunner(t)
	script := writeScript(t, echoScript)

	items := []Item{
		{Label: "first", Prompt: "p1"},
		{Label: "second", Prompt: "p2"},
		{Label: "third", Prompt: "p3"},
	}
	var results int
	summary := r.Run(context.Background(), script, items, Options{}, func(ev any) {
		if _, ok := ev.(ItemResult); ok {
			results++
			r.RequestStop()
		}
	})

	if !summary.Stopped {
		t.Fatal("expected stopped batch")
	}
	if results != 1 {
		t.Fatalf("executed items = %d, want 1", results)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
}

func TestRunPromptFromReport(t *testing.T) {
	r, st := newTestRunner(t)
	script := writeScript(t, echoScript)

	report := filepath.Join(t.TempDir(), "report.md")
	content := "# Design Report\n\n## ComfyUI Prompt\n```\nretro sunset grid, vaporwave palette\n```\n"
	if err := os.WriteFile(report, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	summary := r.Run(context.Background(), script, []Item{{Label: "sunset", ReportPath: report}}, Options{}, nil)
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	runs, err := st.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Prompt != "retro sunset grid, vaporwave palette" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRunReportFallsBackToLabel(t *testing.T) {
	r, st := newTestRunner(t)
	script := writeScript(t, echoScript)

	summary := r.Run(context.Background(), script, []Item{
		{Label: "missing report", ReportPath: filepath.Join(t.TempDir(), "gone.md")},
	}, Options{}, nil)
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	runs, err := st.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Prompt != "missing report" {
		t.Fatalf("runs = %+v", runs)
	}
}
