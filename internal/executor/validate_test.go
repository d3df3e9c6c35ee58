package executor

import (
	"strings"
	"testing"
)

func TestValidateCompatibleScript(t *testing.T) {
	r := Validate(workflowScript)
	if !r.Compatible {
		t.Fatalf("compatible = false, issues: %v", r.BlockingIssues)
	}
	if len(r.BlockingIssues) != 0 {
		t.Errorf("blocking issues = %v, want none", r.BlockingIssues)
	}
	// The test script references all three exporter globals without
	// initializing them.
	if len(r.AutoFixable) != 3 {
		t.Errorf("auto-fixable = %v, want all three known globals", r.AutoFixable)
	}
}

func TestValidateBlockingIssues(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantHit string
	}{
		{
			"missing entry point",
			"-- comfyui workflow with SaveImage\nlocal t = {}\nreturn { t }\n",
			"entry point",
		},
		{
			"missing save node",
			"-- comfyui workflow\nfunction main(args)\n  return { x = 1 }\nend\n",
			"SaveImage",
		},
		{
			"missing structured return",
			"-- comfyui workflow, SaveImage\nfunction main(args)\n  return 1\nend\n",
			"return {",
		},
		{
			"no framework markers",
			"function main(args)\n  -- SaveImage\n  return { x = 1 }\nend\n",
			"framework markers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.source)
			if r.Compatible {
				t.Fatal("compatible = true, want false")
			}
			found := false
			for _, issue := range r.BlockingIssues {
				if strings.Contains(issue, tt.wantHit) {
					found = true
				}
			}
			if !found {
				t.Errorf("issues %v do not mention %q", r.BlockingIssues, tt.wantHit)
			}
		})
	}
}

func TestValidateInitializedGlobalsNotFlagged(t *testing.T) {
	source := `-- comfyui workflow, SaveImage
has_manager = false
_custom_nodes_imported = false
_custom_path_added = false
function main(args)
    if has_manager then return { x = 1 } end
    return { done = true }
end
`
	r := Validate(source)
	if len(r.AutoFixable) != 0 {
		t.Errorf("auto-fixable = %v, want none (all globals initialized)", r.AutoFixable)
	}
	if !r.Compatible {
		t.Errorf("compatible = false, issues: %v", r.BlockingIssues)
	}
}

func TestValidateFileMissing(t *testing.T) {
	r := ValidateFile("/does/not/exist.lua")
	if r.Compatible {
		t.Error("compatible = true for unreadable file")
	}
	if len(r.BlockingIssues) == 0 || !strings.Contains(r.BlockingIssues[0], "cannot read script") {
		t.Errorf("issues = %v", r.BlockingIssues)
	}
}
