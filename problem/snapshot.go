// Package problem defines the values emitted by pagewatch. Any consumer of
// problem snapshots (the mentor store, webhooks, custom pipelines) imports
// this package to receive and process them.
package problem

import "strings"

// Difficulty is the problem difficulty as shown on the page.
type Difficulty string

const (
	Easy    Difficulty = "Easy"
	Medium  Difficulty = "Medium"
	Hard    Difficulty = "Hard"
	Unknown Difficulty = "Unknown"
)

// ParseDifficulty maps a free-form label onto a Difficulty. Anything that is
// not one of the three known levels is Unknown.
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy
	case "medium":
		return Medium
	case "hard":
		return Hard
	}
	return Unknown
}

// Snapshot is the state of a problem page at one instant. It is never
// mutated after extraction: a newer extraction supersedes it.
type Snapshot struct {
	ID                  string     `json:"id"`      // UUIDv7
	PageID              string     `json:"page_id"` // stable identifier provided by caller
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	DescriptionMarkdown string     `json:"description_markdown,omitempty"`
	Difficulty          Difficulty `json:"difficulty"`
	UserCode            string     `json:"userCode"`
	Language            string     `json:"language"`
	URL                 string     `json:"url"`
	CapturedAt          int64      `json:"timestamp"` // epoch milliseconds
}

// Changed reports whether next must be forwarded given the last forwarded
// snapshot prev. Only language and editor contents count.
func Changed(prev, next *Snapshot) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		return true
	}
	return prev.Language != next.Language || prev.UserCode != next.UserCode
}
