package analyzer

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ParamType is the inferred type of a script parameter, derived from the
// literal form of its default value.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
)

// ParameterInfo describes one declared parameter of an exported workflow script.
type ParameterInfo struct {
	Flag        string    `json:"flag"`         // declared switch, e.g. "--text4"
	Name        string    `json:"name"`         // flag with leading dashes stripped
	Default     any       `json:"default"`      // evaluated literal, nil when absent
	HelpText    string    `json:"help_text"`    // help string from the declaration
	Type        ParamType `json:"type"`         // inferred from Default
	PromptScore float64   `json:"prompt_score"` // confidence this is prompt-bearing text
}

// ScoreConfig holds the prompt-likelihood weights and thresholds. The values
// are empirical; treat them as tunable rather than load-bearing.
type ScoreConfig struct {
	NameText     float64
	NamePrompt   float64
	NamePositive float64
	NameNegative float64

	HelpEncodeNode float64 // help mentions a text-encoding node
	HelpPositive   float64
	HelpNegative   float64
	HelpPrompt     float64

	LongDefault    float64 // default string longer than LongDefaultLen
	EmptyDefault   float64
	LongDefaultLen int

	// Mapping derivation thresholds.
	MainMinScore      float64
	MainMinDefaultLen int
}

// DefaultScores returns the stock scoring configuration.
func DefaultScores() ScoreConfig {
	return ScoreConfig{
		NameText:     0.4,
		NamePrompt:   0.5,
		NamePositive: 0.3,
		NameNegative: 0.2,

		HelpEncodeNode: 0.3,
		HelpPositive:   0.4,
		HelpNegative:   0.3,
		HelpPrompt:     0.2,

		LongDefault:    0.3,
		EmptyDefault:   0.1,
		LongDefaultLen: 50,

		MainMinScore:      0.3,
		MainMinDefaultLen: 20,
	}
}

// Analyzer inspects exported workflow scripts for parameter declarations and
// derives prompt mappings from them. All methods recover internally: on any
// failure they return empty results and log the cause.
type Analyzer struct {
	configDir string
	scores    ScoreConfig
	logger    *slog.Logger
}

// New creates an Analyzer that persists mappings under configDir.
func New(configDir string, logger *slog.Logger) *Analyzer {
	if configDir == "" {
		configDir = "script_configs"
	}
	return &Analyzer{
		configDir: configDir,
		scores:    DefaultScores(),
		logger:    logger.With("component", "analyzer"),
	}
}

// SetScores replaces the scoring configuration.
func (a *Analyzer) SetScores(cfg ScoreConfig) { a.scores = cfg }

// declareToken is the literal opening of a parameter declaration as emitted
// by the workflow exporter.
const declareToken = "parser.add_argument("

var (
	flagRe    = regexp.MustCompile(`parser\.add_argument\(\s*["']([^"']+)["']`)
	defaultRe = regexp.MustCompile(`(?s)default\s*=\s*(\[\[.*?\]\]|"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^,}\n]+)`)
	helpRe    = regexp.MustCompile(`(?s)help\s*=\s*(\[\[.*?\]\]|"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')`)
)

// AnalyzeScript reads a script file and returns its parameters and the
// suggested prompt mapping. Never returns an error: failures yield empty
// results.
func (a *Analyzer) AnalyzeScript(path string) ([]ParameterInfo, PromptMapping) {
	data, err := os.ReadFile(path)
	if err != nil {
		a.logger.Error("read script", "path", path, "err", err)
		return nil, PromptMapping{}
	}
	return a.AnalyzeSource(string(data))
}

// AnalyzeSource analyzes script source text directly.
func (a *Analyzer) AnalyzeSource(source string) ([]ParameterInfo, PromptMapping) {
	params := a.parseDeclarations(source)
	mapping := a.deriveMapping(params)
	return params, mapping
}

// parseDeclarations finds every declaration call, tolerating defaults that
// span multiple lines. A non-greedy regex over "call ... )" truncates long
// defaults, so instead each call is isolated by scanning forward from its
// opening parenthesis with a depth counter until the depth returns to zero.
func (a *Analyzer) parseDeclarations(source string) []ParameterInfo {
	var params []ParameterInfo

	pos := 0
	for {
		idx := strings.Index(source[pos:], declareToken)
		if idx < 0 {
			break
		}
		start := pos + idx
		parenPos := start + len(declareToken) - 1 // opening parenthesis

		depth := 1
		i := parenPos + 1
		for i < len(source) && depth > 0 {
			switch source[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			i++
		}

		if depth == 0 {
			call := source[start:i]
			if p, ok := a.parseCall(call); ok {
				params = append(params, p)
			}
		}

		pos = i
	}

	return params
}

// parseCall extracts the flag, default, and help text from one isolated
// declaration call.
func (a *Analyzer) parseCall(call string) (ParameterInfo, bool) {
	m := flagRe.FindStringSubmatch(call)
	if m == nil {
		return ParameterInfo{}, false
	}

	p := ParameterInfo{
		Flag: m[1],
		Name: strings.TrimLeft(m[1], "-"),
		Type: TypeString,
	}

	if dm := defaultRe.FindStringSubmatch(call); dm != nil {
		p.Default = evalLiteral(strings.TrimSpace(dm[1]))
	}

	if hm := helpRe.FindStringSubmatch(call); hm != nil {
		if s, ok := evalLiteral(strings.TrimSpace(hm[1])).(string); ok {
			p.HelpText = s
		}
	}

	switch p.Default.(type) {
	case int64:
		p.Type = TypeInt
	case float64:
		p.Type = TypeFloat
	case bool:
		p.Type = TypeBool
	}

	p.PromptScore = a.scoreParameter(p)
	return p, true
}

// evalLiteral converts a source-text literal to its value. Quoted and
// long-bracket strings are dequoted and unescaped; numbers and booleans are
// parsed. Anything unrecognized is kept as the raw text.
func evalLiteral(text string) any {
	switch {
	case strings.HasPrefix(text, "[[") && strings.HasSuffix(text, "]]") && len(text) >= 4:
		return text[2 : len(text)-2]
	case len(text) >= 2 && (text[0] == '"' || text[0] == '\''):
		quote := text[0]
		if text[len(text)-1] == quote {
			return unescape(text[1 : len(text)-1])
		}
		return text
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	switch text {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	return text
}

// unescape resolves the escape sequences the exporter emits inside quoted
// string literals.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// scoreParameter computes the prompt-likelihood score, capped at 1.0.
// Name signals outweigh help-text signals: declared names are always
// present while help text is sometimes missing entirely.
func (a *Analyzer) scoreParameter(p ParameterInfo) float64 {
	cfg := a.scores
	score := 0.0

	name := strings.ToLower(p.Name)
	if strings.Contains(name, "text") {
		score += cfg.NameText
	}
	if strings.Contains(name, "prompt") {
		score += cfg.NamePrompt
	}
	if strings.Contains(name, "positive") {
		score += cfg.NamePositive
	}
	if strings.Contains(name, "negative") {
		score += cfg.NameNegative
	}

	if p.HelpText != "" {
		help := strings.ToLower(p.HelpText)
		if strings.Contains(help, "clip text encode") {
			score += cfg.HelpEncodeNode
		}
		if strings.Contains(help, "positive prompt") {
			score += cfg.HelpPositive
		}
		if strings.Contains(help, "negative prompt") {
			score += cfg.HelpNegative
		}
		if strings.Contains(help, "prompt") {
			score += cfg.HelpPrompt
		}
	}

	if s, ok := p.Default.(string); ok {
		if len(s) > cfg.LongDefaultLen {
			score += cfg.LongDefault
		} else if len(s) == 0 {
			score += cfg.EmptyDefault
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
