package executor

import (
	"fmt"
	"os"
	"strings"
)

// ValidationResult is the outcome of the pre-execution compatibility check.
// Blocking issues mean the script is unlikely to work under module-style
// invocation, but the caller may still choose to proceed.
type ValidationResult struct {
	Compatible     bool     `json:"compatible"`
	BlockingIssues []string `json:"blocking_issues,omitempty"`
	AutoFixable    []string `json:"auto_fixable,omitempty"`
}

// autoFixGlobals is the closed list of module-level globals the workflow
// exporter references conditionally but sometimes never initializes. The
// engine injects the default for any of them a loaded script leaves
// undefined. Do not extend this list without a matching exporter defect.
var autoFixGlobals = []string{
	"has_manager",
	"_custom_nodes_imported",
	"_custom_path_added",
}

// frameworkMarkers identify a script as belonging to the generation
// framework at all.
var frameworkMarkers = []string{
	"comfyui",
	"workflow",
	"queue_prompt",
	"get_value_at_index",
}

// ValidateFile runs the compatibility check on a script file.
func ValidateFile(path string) ValidationResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{
			BlockingIssues: []string{fmt.Sprintf("cannot read script: %v", err)},
		}
	}
	return Validate(string(data))
}

// Validate inspects script source for the structural markers module-style
// invocation relies on, and detects the known auto-fixable exporter defects.
func Validate(source string) ValidationResult {
	var r ValidationResult
	lower := strings.ToLower(source)

	if !strings.Contains(source, "function main(") {
		r.BlockingIssues = append(r.BlockingIssues, "missing 'function main(' entry point")
	}
	if !strings.Contains(lower, "saveimage") {
		r.BlockingIssues = append(r.BlockingIssues, "no SaveImage node detected")
	}
	if !strings.Contains(source, "return {") {
		r.BlockingIssues = append(r.BlockingIssues, "missing structured 'return {' statement")
	}

	hasFramework := false
	for _, marker := range frameworkMarkers {
		if strings.Contains(lower, marker) {
			hasFramework = true
			break
		}
	}
	if !hasFramework {
		r.BlockingIssues = append(r.BlockingIssues, "no generation-framework markers detected")
	}

	for _, name := range autoFixGlobals {
		referenced := strings.Contains(source, name)
		initialized := strings.Contains(source, name+" = false") ||
			strings.Contains(source, name+" = true")
		if referenced && !initialized {
			r.AutoFixable = append(r.AutoFixable, name)
		}
	}

	r.Compatible = len(r.BlockingIssues) == 0
	return r
}
