package promptgen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"comfy-studio/internal/store"
)

// Result is the outcome of one prompt generation. A failed generation
// carries its reason in Err rather than aborting the surrounding batch.
type Result struct {
	TrendID    string `json:"trend_id"`
	PromptText string `json:"prompt_text,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Err        string `json:"error,omitempty"`
}

const transformationTemplate = `You are a professional t-shirt design prompt engineer. Transform this trending post into a detailed image-generation prompt for a trendy visual t-shirt design.

Post:
- Title: %s
- Popularity Score: %d

Requirements:
- Create a VISUAL GRAPHIC design, not just text
- Include illustrations, characters, symbols, or visual elements that represent the trend
- Must be suitable for t-shirt printing (768x1024px, high contrast, bold graphics)
- Include a specific art style (cartoon, minimalist, retro, modern, etc.)
- Specify colors, composition, and visual hierarchy

Output only the prompt text, no other explanation.`

// Generator turns collected trends into generation prompts via a hosted
// language model and writes one markdown report per trend.
type Generator struct {
	client    *genai.Client
	model     string
	reportDir string
	logger    *slog.Logger
}

// NewGenerator creates a Generator. The genai client reads its API key from
// the environment.
func NewGenerator(ctx context.Context, model, reportDir string, logger *slog.Logger) (*Generator, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if reportDir == "" {
		reportDir = "output/prompts"
	}
	return &Generator{
		client:    cli,
		model:     model,
		reportDir: reportDir,
		logger:    logger.With("component", "promptgen"),
	}, nil
}

// Generate produces a prompt for one trend and saves a report file. Errors
// are folded into the Result so one bad trend never aborts a batch.
func (g *Generator) Generate(ctx context.Context, tr *store.Trend) Result {
	res := Result{TrendID: tr.ID}

	prompt := fmt.Sprintf(transformationTemplate, tr.Title, tr.Score)
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil)
	if err != nil {
		res.Err = fmt.Sprintf("model call: %v", err)
		return res
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		res.Err = "model returned no candidates"
		return res
	}

	res.PromptText = strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)

	path, err := g.writeReport(tr, res.PromptText)
	if err != nil {
		// The prompt itself is still usable; report only.
		g.logger.Warn("write report", "trend", tr.ID, "err", err)
		return res
	}
	res.ReportPath = path
	return res
}

// writeReport saves the generated prompt as a markdown report. The fenced
// block under "## ComfyUI Prompt" is the machine-readable part; everything
// else is for humans.
func (g *Generator) writeReport(tr *store.Trend, promptText string) (string, error) {
	if err := os.MkdirAll(g.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	name := fmt.Sprintf("prompt_%s_%d.md", tr.ID, time.Now().Unix())
	path := filepath.Join(g.reportDir, name)

	var b strings.Builder
	b.WriteString("# T-Shirt Design Prompt\n\n")
	b.WriteString("## Source Information\n")
	fmt.Fprintf(&b, "- **Trend ID**: %s\n", tr.ID)
	fmt.Fprintf(&b, "- **Original Title**: %s\n", tr.Title)
	fmt.Fprintf(&b, "- **Popularity Score**: %d\n", tr.Score)
	fmt.Fprintf(&b, "- **Generated**: %s\n\n", time.Now().Format(time.RFC3339))
	b.WriteString("## ComfyUI Prompt\n\n```\n")
	b.WriteString(promptText)
	b.WriteString("\n```\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

var promptBlockRe = regexp.MustCompile("(?s)## ComfyUI Prompt\\s*```([^`]+)```")

// ExtractPromptFromReport re-reads the machine-readable prompt block out of
// a saved report file.
func ExtractPromptFromReport(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	m := promptBlockRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no prompt block in %s", filepath.Base(path))
	}
	return strings.TrimSpace(string(m[1])), nil
}
