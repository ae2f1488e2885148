// Package remediation turns a deployment failure into a structured fix
// proposal by eliciting, parsing, and validating a generation-service
// response. Remediation failure is never fatal: every internal error
// degrades to a canFix=false proposal.
package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"launchforge/internal/ai"
	"launchforge/internal/logging"
	"launchforge/internal/store"
	"launchforge/pkg/models"
)

// File operations a proposal may request.
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// ErrNoProposal indicates the generation response contained no parseable
// JSON object.
var ErrNoProposal = errors.New("remediation: no valid proposal structure in response")

// FileOp is one proposed file change with full new content.
type FileOp struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Operation string `json:"operation"`
}

// Proposal is the structured outcome of one remediation attempt. It is
// transient; its effects are persisted as file writes plus a log entry.
type Proposal struct {
	CanFix        bool     `json:"canFix"`
	Description   string   `json:"description"`
	Files         []FileOp `json:"files"`
	CommitMessage string   `json:"commitMessage"`
}

const (
	defaultMaxFiles     = 10
	defaultMaxFileChars = 4000
)

// Engine elicits fix proposals from the generation service.
type Engine struct {
	gen          ai.Generator
	maxFiles     int
	maxFileChars int
	log          *zap.Logger
}

// NewEngine returns an engine with the default context bounds.
func NewEngine(gen ai.Generator) *Engine {
	return &Engine{
		gen:          gen,
		maxFiles:     defaultMaxFiles,
		maxFileChars: defaultMaxFileChars,
		log:          logging.L(),
	}
}

// ProposeFix produces a proposal for the given failure. It never returns an
// error: anything that goes wrong yields canFix=false with the cause in the
// description.
func (e *Engine) ProposeFix(ctx context.Context, failure string, project *models.Project, snapshot []store.File) *Proposal {
	prompt := e.buildPrompt(failure, project, snapshot)

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return cannotFix(err)
	}

	proposal, err := parseProposal(raw)
	if err != nil {
		e.log.Warn("discarding unparseable fix proposal",
			zap.Uint("project_id", project.ID),
			zap.Error(err))
		return cannotFix(err)
	}

	// A fix with nothing to apply is no fix. Never execute file operations
	// on an invalid proposal.
	if proposal.CanFix && len(proposal.Files) == 0 {
		proposal.CanFix = false
	}
	for i := range proposal.Files {
		if proposal.Files[i].Operation != OpCreate {
			proposal.Files[i].Operation = OpUpdate
		}
	}
	if proposal.CommitMessage == "" {
		proposal.CommitMessage = "apply automated deployment fix"
	}
	return proposal
}

func cannotFix(cause error) *Proposal {
	return &Proposal{
		CanFix:      false,
		Description: fmt.Sprintf("auto-fix failed: %v", cause),
	}
}

func (e *Engine) buildPrompt(failure string, project *models.Project, snapshot []store.File) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A %s project named %q failed to deploy. The platform reported:\n\n%s\n\n",
		project.Framework, project.Name, failure)

	b.WriteString("Current project files:\n\n")
	for i, f := range snapshot {
		if i >= e.maxFiles {
			fmt.Fprintf(&b, "(%d more files omitted)\n", len(snapshot)-e.maxFiles)
			break
		}
		content := f.Content
		if len(content) > e.maxFileChars {
			content = content[:e.maxFileChars] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.Path, content)
	}

	b.WriteString(`Diagnose the failure and respond with a single JSON object and nothing else.
No prose, no markdown fences. The object must have exactly this shape:

{
  "canFix": true or false,
  "description": "one-paragraph explanation of the fix",
  "files": [{"path": "relative/path", "content": "full new file content", "operation": "create" or "update"}],
  "commitMessage": "short commit message"
}

If the failure cannot be fixed by changing project files, respond with
{"canFix": false, "description": "...", "files": [], "commitMessage": ""}.`)

	return b.String()
}

// ExtractObject returns the first balanced JSON object in a generation
// response, with markdown fence markers stripped. It exists for every
// consumer of the strict JSON-only response contract, not just fixes.
func ExtractObject(raw string) (string, bool) {
	return firstJSONObject(stripFences(raw))
}

// parseProposal extracts and validates the first balanced JSON object in a
// generation response. Known fence markers are stripped before scanning.
func parseProposal(raw string) (*Proposal, error) {
	cleaned := stripFences(raw)

	span, ok := firstJSONObject(cleaned)
	if !ok {
		return nil, ErrNoProposal
	}

	var proposal Proposal
	if err := json.Unmarshal([]byte(span), &proposal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProposal, err)
	}
	return &proposal, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return s
}

// firstJSONObject returns the first balanced {...} span, tracking string
// literals and escapes so braces inside content don't break the scan.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
