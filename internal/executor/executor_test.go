package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// workflowScript is a minimal exported workflow script: comfyui markers, a
// SaveImage reference, the conditionally-referenced exporter globals, and a
// main returning two 2x2 RGB images.
const workflowScript = `-- exported comfyui workflow (SaveImage node id 9)
local function make_image()
    local img = {}
    for y = 1, 2 do
        img[y] = {}
        for x = 1, 2 do
            img[y][x] = { 0.5, 0.25, 1.0 }
        end
    end
    return img
end

function main(args)
    if has_manager then
        error("manager path not expected in tests")
    end
    if _custom_nodes_imported or _custom_path_added then
        error("custom node path not expected in tests")
    end
    return {
        images = { make_image(), make_image() },
        filename_prefix = "batch_001",
    }
end
`

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback")
	e := NewEngine(Config{
		EnginePaths: []string{filepath.Join(dir, "no_engine_here")},
		FallbackDir: fallback,
	}, slog.Default())
	return e, fallback
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestExecuteFallbackSave(t *testing.T) {
	e, fallback := newTestEngine(t)
	path := writeScript(t, workflowScript)

	out := e.Execute(context.Background(), path, map[string]any{"text4": "a prompt"})

	if out.Status != Succeeded {
		t.Fatalf("status = %s (%s), want succeeded", out.Status, out.Diagnostic)
	}
	if len(out.ArtifactPaths) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(out.ArtifactPaths))
	}
	if out.ArtifactPaths[0] == out.ArtifactPaths[1] {
		t.Error("artifact paths are not distinct")
	}
	for _, p := range out.ArtifactPaths {
		if !strings.Contains(filepath.Base(p), "batch_001") {
			t.Errorf("artifact %q does not carry the filename prefix", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact %q not on disk: %v", p, err)
		}
	}
	if n := countFiles(t, fallback); n != 2 {
		t.Errorf("fallback dir has %d files, want 2", n)
	}
}

func TestExecuteNativeSave(t *testing.T) {
	dir := t.TempDir()
	engineDir := filepath.Join(dir, "ComfyUI")
	if err := os.MkdirAll(filepath.Join(engineDir, "comfy_extras"), 0o755); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(Config{
		EnginePaths: []string{engineDir},
		FallbackDir: filepath.Join(dir, "fallback"),
	}, slog.Default())

	out := e.Execute(context.Background(), writeScript(t, workflowScript), nil)
	if out.Status != Succeeded {
		t.Fatalf("status = %s (%s), want succeeded", out.Status, out.Diagnostic)
	}
	if n := countFiles(t, filepath.Join(engineDir, "output")); n != 2 {
		t.Errorf("engine output dir has %d files, want 2", n)
	}
	if n := countFiles(t, filepath.Join(dir, "fallback")); n != 0 {
		t.Errorf("fallback dir has %d files, want 0 (native strategy should win)", n)
	}
}

func TestExecuteMissingEntryPoint(t *testing.T) {
	e, fallback := newTestEngine(t)
	path := writeScript(t, `-- comfyui workflow, SaveImage
local x = 1
`)

	out := e.Execute(context.Background(), path, nil)
	if out.Status != Failed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Diagnostic, "main entry point") {
		t.Errorf("diagnostic = %q, want mention of missing entry point", out.Diagnostic)
	}
	if n := countFiles(t, fallback); n != 0 {
		t.Errorf("wrote %d files, want 0", n)
	}
}

func TestExecutePatchesMissingGlobals(t *testing.T) {
	e, _ := newTestEngine(t)

	// References all three exporter globals but initializes none of them.
	// Without patching the conditions would still pass (nil is falsy in
	// Lua), so the script asserts the globals are real booleans.
	script := `-- comfyui workflow, SaveImage
function main(args)
    if has_manager ~= false then error("has_manager not injected") end
    if _custom_nodes_imported ~= false then error("_custom_nodes_imported not injected") end
    if _custom_path_added ~= false then error("_custom_path_added not injected") end
    return { note = "ran" }
end
`
	out := e.Execute(context.Background(), writeScript(t, script), nil)
	if out.Status != SucceededNoArtifacts {
		t.Fatalf("status = %s (%s), want succeeded_no_artifacts", out.Status, out.Diagnostic)
	}
}

func TestExecuteNoImageCollection(t *testing.T) {
	e, fallback := newTestEngine(t)
	script := `-- comfyui workflow, SaveImage
function main(args)
    return { filename_prefix = "empty_run" }
end
`
	out := e.Execute(context.Background(), writeScript(t, script), nil)
	if out.Status != SucceededNoArtifacts {
		t.Fatalf("status = %s, want succeeded_no_artifacts", out.Status)
	}
	if n := countFiles(t, fallback); n != 0 {
		t.Errorf("wrote %d files, want 0", n)
	}
}

func TestExecuteUnexpectedResultShape(t *testing.T) {
	e, _ := newTestEngine(t)
	script := `-- comfyui workflow, SaveImage
function main(args)
    return "just a string"
end
`
	out := e.Execute(context.Background(), writeScript(t, script), nil)
	if out.Status != Failed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Diagnostic, "unexpected result shape") {
		t.Errorf("diagnostic = %q", out.Diagnostic)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	e, _ := newTestEngine(t)
	script := `-- comfyui workflow, SaveImage
function main(args)
    local node = nil
    return node.outputs
end
`
	out := e.Execute(context.Background(), writeScript(t, script), nil)
	if out.Status != Failed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Diagnostic, "missing expected export") {
		t.Errorf("diagnostic = %q, want nil-index classification", out.Diagnostic)
	}
}

func TestExecuteArgsReachScript(t *testing.T) {
	e, _ := newTestEngine(t)
	script := `-- comfyui workflow, SaveImage
function main(args)
    if args.text4 ~= "city at night" then error("wrong prompt: " .. tostring(args.text4)) end
    if args.width6 ~= 768 then error("wrong width") end
    if args.extra_knob ~= "kept" then error("extra keyword dropped") end
    return { note = "ok" }
end
`
	out := e.Execute(context.Background(), writeScript(t, script), map[string]any{
		"text4":      "city at night",
		"width6":     768,
		"extra_knob": "kept",
	})
	if out.Status != SucceededNoArtifacts {
		t.Fatalf("status = %s (%s)", out.Status, out.Diagnostic)
	}
}

func TestExecuteFreshStatePerInvocation(t *testing.T) {
	e, _ := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.lua")

	// First version leaves a marker global; second must not see it.
	v1 := `-- comfyui workflow, SaveImage
leftover = "stale"
function main(args)
    return { note = "v1" }
end
`
	v2 := `-- comfyui workflow, SaveImage
function main(args)
    if leftover ~= nil then error("stale state leaked across invocations") end
    return { note = "v2" }
end
`
	if err := os.WriteFile(path, []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}
	if out := e.Execute(context.Background(), path, nil); out.Status == Failed {
		t.Fatalf("v1 failed: %s", out.Diagnostic)
	}

	if err := os.WriteFile(path, []byte(v2), 0o644); err != nil {
		t.Fatal(err)
	}
	if out := e.Execute(context.Background(), path, nil); out.Status == Failed {
		t.Fatalf("v2 failed: %s", out.Diagnostic)
	}
}
