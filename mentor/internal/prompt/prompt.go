// Package prompt builds mentor prompts from a problem snapshot.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/codementor/problem"
)

// Kind selects what the mentor is asked for.
type Kind string

const (
	Hint        Kind = "hint"
	Solution    Kind = "solution"
	Explanation Kind = "explanation"
	General     Kind = "general"
)

// ParseKind maps a request string onto a Kind. Unknown values ask for
// general guidance.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Hint, Solution, Explanation:
		return k
	}
	return General
}

// Build renders the prompt for kind. The markdown description is preferred
// over the raw HTML when the snapshot has one.
func Build(kind Kind, snap *problem.Snapshot) string {
	lang := snap.Language
	if lang == "" {
		lang = "Unknown"
	}
	desc := snap.DescriptionMarkdown
	if desc == "" {
		desc = snap.Description
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a coding mentor helping with a %s solution for the following LeetCode problem:\n", lang)
	fmt.Fprintf(&b, "\nProblem: %s\nDifficulty: %s\nLanguage: %s\n\n%s\n", snap.Title, difficulty(snap), lang, desc)
	if snap.UserCode != "" {
		fmt.Fprintf(&b, "\nCurrent code:\n```%s\n%s\n```\n", lang, snap.UserCode)
	} else {
		b.WriteString("\nNo code written yet.\n")
	}
	b.WriteString("\n")

	switch kind {
	case Hint:
		fmt.Fprintf(&b, "Please provide a helpful hint for improving this %s code. Focus on potential optimizations and best practices.", lang)
	case Solution:
		fmt.Fprintf(&b, "Please provide a complete %s solution with detailed explanations.", lang)
	case Explanation:
		fmt.Fprintf(&b, "Please explain this %s code in detail, including its approach, complexity, and potential improvements.", lang)
	default:
		fmt.Fprintf(&b, "Please provide general guidance on solving this problem in %s.", lang)
	}
	return b.String()
}

func difficulty(snap *problem.Snapshot) problem.Difficulty {
	if snap.Difficulty == "" {
		return problem.Unknown
	}
	return snap.Difficulty
}
