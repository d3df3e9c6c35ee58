package promptgen

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comfy-studio/internal/store"
)

func TestWriteReportRoundTrip(t *testing.T) {
	g := &Generator{
		reportDir: t.TempDir(),
		logger:    slog.Default(),
	}
	tr := &store.Trend{ID: "xyz789", Title: "Chrome tiger", Score: 3100}

	path, err := g.writeReport(tr, "a chrome tiger leaping through static, synthwave palette")
	if err != nil {
		t.Fatal(err)
	}

	got, err := ExtractPromptFromReport(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a chrome tiger leaping through static, synthwave palette" {
		t.Errorf("extracted = %q", got)
	}
}

func TestExtractPromptFromReport(t *testing.T) {
	report := `# T-Shirt Design Prompt

## Source Information
- **Trend ID**: abc123

## ComfyUI Prompt

` + "```" + `
A retro cartoon wolf howling at a neon moon,
bold outlines, limited palette, distressed print texture
` + "```" + `
`
	path := filepath.Join(t.TempDir(), "prompt_abc123.md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ExtractPromptFromReport(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "A retro cartoon wolf") {
		t.Errorf("extracted = %q", got)
	}
	if strings.Contains(got, "```") {
		t.Error("extracted prompt contains fence characters")
	}
}

func TestExtractPromptFromReportNoBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.md")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractPromptFromReport(path); err == nil {
		t.Error("extraction succeeded on report without prompt block")
	}
}

func TestExtractPromptFromReportMissingFile(t *testing.T) {
	if _, err := ExtractPromptFromReport("/no/such/report.md"); err == nil {
		t.Error("extraction succeeded on missing file")
	}
}
