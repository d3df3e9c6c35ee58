package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrMappingNotFound is returned when no mapping has been saved for a script.
var ErrMappingNotFound = errors.New("mapping not found")

// PromptMapping assigns a script's parameter names to semantic roles.
// Empty fields mean the role was not identified.
type PromptMapping struct {
	MainPrompt     string `json:"main_prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          string `json:"width,omitempty"`
	Height         string `json:"height,omitempty"`
	Steps          string `json:"steps,omitempty"`
	Seed           string `json:"seed,omitempty"`
}

// deriveMapping suggests a prompt mapping from the parameter list.
//
// Candidates are the parameters whose name contains "text" or "prompt",
// ordered by score (declaration order breaks ties). Three passes: exact
// names short-circuit scoring, then the score threshold picks the main
// prompt, then the negative prompt falls out of name/default/help hints.
// Dimension and sampler parameters are matched by name independently.
func (a *Analyzer) deriveMapping(params []ParameterInfo) PromptMapping {
	var candidates []ParameterInfo
	for _, p := range params {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, "text") || strings.Contains(name, "prompt") {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PromptScore > candidates[j].PromptScore
	})

	var m PromptMapping

	for _, p := range candidates {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, "main_prompt") || strings.Contains(name, "positive_prompt") {
			m.MainPrompt = p.Name
		} else if strings.Contains(name, "negative_prompt") || strings.Contains(name, "neg_prompt") {
			m.NegativePrompt = p.Name
		}
	}

	if m.MainPrompt == "" {
		for _, p := range candidates {
			s, isStr := p.Default.(string)
			if p.PromptScore > a.scores.MainMinScore && isStr && len(s) > a.scores.MainMinDefaultLen {
				m.MainPrompt = p.Name
				break
			}
		}
	}

	if m.NegativePrompt == "" {
		for _, p := range candidates {
			if p.Name == m.MainPrompt {
				continue
			}
			s, isStr := p.Default.(string)
			if strings.Contains(strings.ToLower(p.Name), "negative") ||
				(isStr && len(s) == 0) ||
				strings.Contains(strings.ToLower(p.HelpText), "negative") {
				m.NegativePrompt = p.Name
				break
			}
		}
	}

	for _, p := range params {
		name := strings.ToLower(p.Name)
		numeric := p.Type == TypeInt || p.Type == TypeFloat
		switch {
		case strings.Contains(name, "width") && numeric:
			if m.Width == "" {
				m.Width = p.Name
			}
		case strings.Contains(name, "height") && numeric:
			if m.Height == "" {
				m.Height = p.Name
			}
		case strings.Contains(name, "steps") && p.Type == TypeInt:
			if m.Steps == "" {
				m.Steps = p.Name
			}
		case strings.Contains(name, "seed") && p.Type == TypeInt:
			if m.Seed == "" {
				m.Seed = p.Name
			}
		}
	}

	return m
}

// SaveMapping writes the mapping for a script base name, creating the config
// directory if needed.
func (a *Analyzer) SaveMapping(scriptBase string, m PromptMapping) error {
	if err := os.MkdirAll(a.configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	path := filepath.Join(a.configDir, scriptBase+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return nil
}

// LoadMapping reads the saved mapping for a script base name. A missing file
// returns ErrMappingNotFound; so does a malformed one, after logging the
// parse failure.
func (a *Analyzer) LoadMapping(scriptBase string) (PromptMapping, error) {
	path := filepath.Join(a.configDir, scriptBase+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PromptMapping{}, ErrMappingNotFound
		}
		a.logger.Warn("read mapping", "script", scriptBase, "err", err)
		return PromptMapping{}, ErrMappingNotFound
	}

	var m PromptMapping
	if err := json.Unmarshal(data, &m); err != nil {
		a.logger.Warn("parse mapping", "script", scriptBase, "err", err)
		return PromptMapping{}, ErrMappingNotFound
	}
	return m, nil
}

// Default keyword scheme used when a script has no saved mapping. The
// exporter numbers text-encode inputs, and these two slots are what it
// emits for the common two-encoder graphs.
const (
	fallbackMainKeyword     = "text4"
	fallbackNegativeKeyword = "text5"
)

// ExecutionArgs builds the keyword bundle for invoking a script's entry
// point: the prompt under the mapped main keyword, the negative prompt under
// its mapped keyword when known, and each extra value translated through the
// mapping or passed through verbatim.
func (a *Analyzer) ExecutionArgs(scriptBase, promptText, negativePrompt string, extra map[string]any) map[string]any {
	mapping, err := a.LoadMapping(scriptBase)
	if err != nil {
		args := map[string]any{
			fallbackMainKeyword:     promptText,
			fallbackNegativeKeyword: negativePrompt,
		}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}

	args := make(map[string]any, len(extra)+2)
	if mapping.MainPrompt != "" {
		args[mapping.MainPrompt] = promptText
	}
	if mapping.NegativePrompt != "" {
		args[mapping.NegativePrompt] = negativePrompt
	}

	for k, v := range extra {
		switch {
		case k == "width" && mapping.Width != "":
			args[mapping.Width] = v
		case k == "height" && mapping.Height != "":
			args[mapping.Height] = v
		case k == "steps" && mapping.Steps != "":
			args[mapping.Steps] = v
		case k == "seed" && mapping.Seed != "":
			args[mapping.Seed] = v
		default:
			args[k] = v
		}
	}

	return args
}
