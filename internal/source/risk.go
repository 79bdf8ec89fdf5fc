package source

import (
	"regexp"
	"strings"

	"agentwatch/internal/event"
)

// Tool vocabularies for risk grading. Unified names only; per-source tool
// names are mapped into this vocabulary by the builders before grading.
var (
	readOnlyTools = map[string]struct{}{
		"Read": {}, "Grep": {}, "Glob": {}, "LS": {},
		"WebSearch": {}, "WebFetch": {}, "NotebookRead": {}, "TodoRead": {},
	}

	mutatingTools = map[string]struct{}{
		"Write": {}, "Edit": {}, "MultiEdit": {}, "NotebookEdit": {}, "TodoWrite": {},
	}

	shellTools = map[string]struct{}{
		"Bash": {}, "Shell": {}, "Command": {},
	}
)

// destructivePatterns escalate shell commands from high to critical:
// recursive deletes, privilege escalation, history-rewriting VCS resets,
// and raw device writes.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w+\s+)*-\w*[rf]\w*[rf]?\w*\s`),
	regexp.MustCompile(`\brm\s+-[rf]{2}\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*--force\b`),
	regexp.MustCompile(`\bgit\s+clean\s+-\w*[fdx]`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\bchmod\s+-R\s+777\b`),
	regexp.MustCompile(`:\(\)\s*\{`),
}

// ClassifyRisk maps a tool invocation to a risk level. It is a pure
// function: identical inputs always grade identically. Unknown tools
// default to safe.
func ClassifyRisk(toolName string, toolInput map[string]any) event.RiskLevel {
	if _, ok := readOnlyTools[toolName]; ok {
		return event.RiskSafe
	}
	if _, ok := mutatingTools[toolName]; ok {
		return event.RiskMedium
	}
	if _, ok := shellTools[toolName]; ok {
		if cmd := stringInput(toolInput, "command"); cmd != "" && isDestructive(cmd) {
			return event.RiskCritical
		}
		return event.RiskHigh
	}
	return event.RiskSafe
}

func isDestructive(command string) bool {
	command = strings.TrimSpace(command)
	for _, pat := range destructivePatterns {
		if pat.MatchString(command) {
			return true
		}
	}
	return false
}

// MutatesState reports whether a tool name grades at medium risk or above,
// which is what the crash-window check in the status machine cares about.
func MutatesState(toolName string) bool {
	if _, ok := mutatingTools[toolName]; ok {
		return true
	}
	_, ok := shellTools[toolName]
	return ok
}

// stringInput reads a string-valued key out of a generic tool input map.
func stringInput(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
