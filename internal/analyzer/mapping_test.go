package analyzer

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadMappingRoundTrip(t *testing.T) {
	a := newTestAnalyzer(t)

	saved := PromptMapping{
		MainPrompt:     "text4",
		NegativePrompt: "text5",
		Width:          "width6",
		Height:         "height7",
		Steps:          "steps13",
		Seed:           "seed12",
	}
	if err := a.SaveMapping("wolf_768x1024", saved); err != nil {
		t.Fatal(err)
	}

	loaded, err := a.LoadMapping("wolf_768x1024")
	if err != nil {
		t.Fatal(err)
	}
	if loaded != saved {
		t.Errorf("loaded = %+v, want %+v", loaded, saved)
	}
}

func TestLoadMappingMissing(t *testing.T) {
	a := newTestAnalyzer(t)

	_, err := a.LoadMapping("never_saved")
	if !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("err = %v, want ErrMappingNotFound", err)
	}
}

func TestLoadMappingMalformed(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, slog.Default())

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := a.LoadMapping("broken")
	if !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("err = %v, want ErrMappingNotFound", err)
	}
}

func TestExecutionArgsFallback(t *testing.T) {
	a := newTestAnalyzer(t)

	args := a.ExecutionArgs("unknown_script", "a prompt", "bad hands", map[string]any{
		"width": 768,
		"cfg":   7.5,
	})

	if args["text4"] != "a prompt" {
		t.Errorf("text4 = %v, want the prompt", args["text4"])
	}
	if args["text5"] != "bad hands" {
		t.Errorf("text5 = %v, want the negative prompt", args["text5"])
	}
	if args["width"] != 768 {
		t.Errorf("width = %v, want verbatim passthrough", args["width"])
	}
	if args["cfg"] != 7.5 {
		t.Errorf("cfg = %v, want verbatim passthrough", args["cfg"])
	}
}

func TestExecutionArgsMapped(t *testing.T) {
	a := newTestAnalyzer(t)

	m := PromptMapping{
		MainPrompt: "text2",
		Width:      "width3",
		Seed:       "seed10",
	}
	if err := a.SaveMapping("flux_script", m); err != nil {
		t.Fatal(err)
	}

	args := a.ExecutionArgs("flux_script", "city at night", "", map[string]any{
		"width": 1024,
		"seed":  int64(99),
		"steps": 20,
	})

	if args["text2"] != "city at night" {
		t.Errorf("text2 = %v", args["text2"])
	}
	if _, ok := args["text5"]; ok {
		t.Error("negative keyword set despite no mapping for it")
	}
	if args["width3"] != 1024 {
		t.Errorf("width3 = %v, want translated width", args["width3"])
	}
	if args["seed10"] != int64(99) {
		t.Errorf("seed10 = %v, want translated seed", args["seed10"])
	}
	if args["steps"] != 20 {
		t.Errorf("steps = %v, want verbatim (no mapping)", args["steps"])
	}
}
