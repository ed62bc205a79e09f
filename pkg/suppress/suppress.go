// Package suppress implements comment-based suppression of verification
// failures in assembled method listings.
package suppress

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
)

// Checker handles nolint and lint:ignore comment suppression.
type Checker struct {
	// suppressions maps instruction index to suppression reason
	suppressions map[int]string
}

// Suppression represents a parsed suppression directive.
type Suppression struct {
	Line   int
	Reason string
	Type   SuppressionType
}

// SuppressionType represents different types of suppression comments.
type SuppressionType int

const (
	// SuppressionNolint represents //nolint:bcverify comments.
	SuppressionNolint SuppressionType = iota

	// SuppressionLintIgnore represents //lint:ignore bcverify comments.
	SuppressionLintIgnore
)

// Suppression patterns for different comment styles.
var (
	// nolintPattern matches //nolint:bcverify comments
	nolintPattern = regexp.MustCompile(`//\s*nolint:bcverify(?:\s+//\s*(.+))?$`)

	// lintIgnorePattern matches //lint:ignore bcverify comments
	lintIgnorePattern = regexp.MustCompile(`//\s*lint:ignore\s+bcverify(?:\s+(.+))?`)

	// genericNolintPattern matches //nolint comments without specific linter
	genericNolintPattern = regexp.MustCompile(`//\s*nolint(?:\s|$)`)

	// nolintWithMultipleRules matches nolint with multiple comma-separated rules
	nolintWithMultipleRules = regexp.MustCompile(`//\s*nolint:([^/\s]+)`)
)

// NewChecker creates a new suppression checker.
func NewChecker() *Checker {
	return &Checker{
		suppressions: make(map[int]string),
	}
}

// Load parses suppression comments from a method listing. src holds the
// source lines and instrLines the 1-based source line of every instruction.
// A directive applies to the instruction on its own line, or to the
// instruction on the following line when it stands alone.
func (sc *Checker) Load(src []string, instrLines []int) error {
	if instrLines == nil {
		return fmt.Errorf("instruction lines cannot be nil")
	}

	suppressionsByLine := make(map[int]*Suppression)
	for i, text := range src {
		if s := parseComment(i+1, text); s != nil {
			suppressionsByLine[i+1] = s
		}
	}

	occupied := make(map[int]bool, len(instrLines))
	for _, line := range instrLines {
		occupied[line] = true
	}

	for idx, line := range instrLines {
		var suppression *Suppression
		var exists bool
		if suppression, exists = suppressionsByLine[line]; !exists && !occupied[line-1] {
			suppression, exists = suppressionsByLine[line-1]
		}
		if !exists {
			continue
		}
		reason := suppression.Reason
		if reason == "" {
			reason = "suppressed"
		}
		sc.suppressions[idx] = reason
	}
	return nil
}

// parseComment parses the comment on a source line to check if it's a
// suppression directive.
func parseComment(line int, text string) *Suppression {
	text = commentText(text)
	if text == "" {
		return nil
	}

	if matches := nolintPattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Line:   line,
			Reason: strings.TrimSpace(matches[1]),
			Type:   SuppressionNolint,
		}
	}

	if matches := lintIgnorePattern.FindStringSubmatch(text); matches != nil {
		return &Suppression{
			Line:   line,
			Reason: strings.TrimSpace(matches[1]),
			Type:   SuppressionLintIgnore,
		}
	}

	if genericNolintPattern.MatchString(text) {
		return &Suppression{Line: line, Type: SuppressionNolint}
	}

	if matches := nolintWithMultipleRules.FindStringSubmatch(text); len(matches) > 1 {
		for rule := range strings.SplitSeq(matches[1], ",") {
			if strings.TrimSpace(rule) != "bcverify" {
				continue
			}
			reason := ""
			if idx := strings.Index(text[2:], "//"); idx >= 0 {
				reason = strings.TrimSpace(text[idx+4:])
			}
			return &Suppression{Line: line, Reason: reason, Type: SuppressionNolint}
		}
	}

	return nil
}

// commentText returns the trailing "//" comment of a listing line, skipping
// quoted string operands.
func commentText(text string) string {
	quoted := false
	for i := 0; i < len(text); i++ {
		switch {
		case quoted && text[i] == '\\':
			i++
		case text[i] == '"':
			quoted = !quoted
		case !quoted && strings.HasPrefix(text[i:], "//"):
			return text[i:]
		}
	}
	return ""
}

// IsSuppressed checks if failures at instruction index are suppressed.
func (sc *Checker) IsSuppressed(index int) (bool, string) {
	if reason, exists := sc.suppressions[index]; exists {
		return true, reason
	}
	return false, ""
}

// Clear clears all suppressions.
func (sc *Checker) Clear() {
	sc.suppressions = make(map[int]string)
}

// All returns a copy of the loaded suppressions keyed by instruction index.
func (sc *Checker) All() map[int]string {
	result := make(map[int]string, len(sc.suppressions))
	maps.Copy(result, sc.suppressions)
	return result
}
