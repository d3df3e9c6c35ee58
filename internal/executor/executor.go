package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Status classifies one invocation attempt.
type Status string

const (
	// Succeeded means the script ran and artifacts were written to disk.
	Succeeded Status = "succeeded"
	// SucceededNoArtifacts means the script ran correctly but no output
	// file could be confirmed on disk.
	SucceededNoArtifacts Status = "succeeded_no_artifacts"
	// Failed means the invocation itself failed.
	Failed Status = "failed"
)

// Outcome is the normalized result of one invocation attempt.
type Outcome struct {
	Status        Status   `json:"status"`
	ArtifactPaths []string `json:"artifact_paths,omitempty"`
	Diagnostic    string   `json:"diagnostic,omitempty"`
}

// Config holds the engine's filesystem settings.
type Config struct {
	// EnginePaths are probed for a generation-engine installation; empty
	// uses the default probe list.
	EnginePaths []string
	// FallbackDir receives images when the native save integration is
	// unavailable.
	FallbackDir string
}

// Engine loads exported workflow scripts as fresh executable units and
// invokes their entry point, tolerating the exporter's known defects.
type Engine struct {
	logger      *slog.Logger
	enginePaths []string
	fallbackDir string
}

// NewEngine creates an execution engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if len(cfg.EnginePaths) == 0 {
		cfg.EnginePaths = defaultEnginePaths()
	}
	if cfg.FallbackDir == "" {
		cfg.FallbackDir = "output/comfy_generated"
	}
	return &Engine{
		logger:      logger.With("component", "executor"),
		enginePaths: cfg.EnginePaths,
		fallbackDir: cfg.FallbackDir,
	}
}

// sandboxedGlobals are removed from every script VM before execution, same
// as the automation sandbox: scripts drive the generation graph, nothing
// else.
var sandboxedGlobals = []string{
	"os", "io", "loadfile", "dofile", "require", "load", "debug", "package",
}

// Execute runs one script invocation: load the file as a fresh VM, patch
// the known missing globals, call main with the keyword bundle, classify
// the result, and materialize any images. Never returns an error; every
// failure mode is folded into the Outcome.
func (e *Engine) Execute(ctx context.Context, scriptPath string, args map[string]any) *Outcome {
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return &Outcome{Status: Failed, Diagnostic: fmt.Sprintf("read script: %v", err)}
	}

	// A fresh state per invocation: re-running a script with the same base
	// name but different content must never reuse stale code.
	L := lua.NewState()
	defer L.Close()
	for _, g := range sandboxedGlobals {
		L.SetGlobal(g, lua.LNil)
	}
	L.SetContext(ctx)

	if err := L.DoString(string(source)); err != nil {
		return &Outcome{Status: Failed, Diagnostic: fmt.Sprintf("script load error: %v", err)}
	}

	var fixed []string
	for _, name := range autoFixGlobals {
		if L.GetGlobal(name) == lua.LNil {
			L.SetGlobal(name, lua.LFalse)
			fixed = append(fixed, name)
		}
	}
	if len(fixed) > 0 {
		e.logger.Info("injected missing globals", "script", scriptPath, "names", strings.Join(fixed, ","))
	}

	mainFn, ok := L.GetGlobal("main").(*lua.LFunction)
	if !ok {
		return &Outcome{Status: Failed, Diagnostic: "script has no main entry point"}
	}

	if err := L.CallByParam(lua.P{Fn: mainFn, NRet: 1, Protect: true}, argsToTable(L, args)); err != nil {
		return &Outcome{Status: Failed, Diagnostic: classifyInvokeError(err, args)}
	}
	ret := L.Get(-1)
	L.Pop(1)

	result, ok := ret.(*lua.LTable)
	if !ok {
		return &Outcome{
			Status:     Failed,
			Diagnostic: fmt.Sprintf("unexpected result shape: %s (script is not compatible with module-style invocation)", ret.Type()),
		}
	}

	imagesVal := result.RawGetString("images")
	imagesTbl, ok := imagesVal.(*lua.LTable)
	if !ok {
		return &Outcome{
			Status:     SucceededNoArtifacts,
			Diagnostic: "script completed but returned no image collection",
		}
	}

	prefix := "comfy_generated"
	if s, ok := result.RawGetString("filename_prefix").(lua.LString); ok && s != "" {
		prefix = string(s)
	}

	var images []*tensor
	for i := 1; i <= imagesTbl.Len(); i++ {
		t, err := decodeTensor(imagesTbl.RawGetInt(i))
		if err != nil {
			return &Outcome{
				Status:     SucceededNoArtifacts,
				Diagnostic: fmt.Sprintf("generation succeeded but image %d is undecodable: %v", i, err),
			}
		}
		images = append(images, t)
	}
	if len(images) == 0 {
		return &Outcome{Status: SucceededNoArtifacts, Diagnostic: "script returned an empty image collection"}
	}

	return e.save(images, prefix)
}

// save tries each strategy in order and stops at the first success. A save
// failure never demotes a successful generation to Failed.
func (e *Engine) save(images []*tensor, prefix string) *Outcome {
	strategies := []saveStrategy{e.saveNative, e.saveFallback}

	var errs []string
	for _, strat := range strategies {
		paths, err := strat(images, prefix)
		if err == nil {
			return &Outcome{Status: Succeeded, ArtifactPaths: paths}
		}
		errs = append(errs, err.Error())
	}

	return &Outcome{
		Status:     SucceededNoArtifacts,
		Diagnostic: "generation succeeded but no file could be confirmed on disk: " + strings.Join(errs, "; "),
	}
}

// classifyInvokeError maps a protected-call error to a diagnostic hint.
func classifyInvokeError(err error, args map[string]any) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "attempt to index"):
		return fmt.Sprintf("likely missing expected export: %v", err)
	case strings.Contains(msg, "bad argument") || strings.Contains(msg, "unknown argument"):
		return fmt.Sprintf("likely wrong keyword mapping (attempted keywords: %s): %v", keywordList(args), err)
	default:
		return fmt.Sprintf("script execution error: %v", err)
	}
}

func keywordList(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// argsToTable converts the keyword bundle to the single table argument the
// entry point takes. Unknown keywords pass through untouched; scripts with
// extra parameters simply ignore what they don't read.
func argsToTable(L *lua.LState, args map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range args {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
