package extract

// Selectors lists the CSS selectors used against a problem page. Candidate
// lists are tried in order; the first selector that matches wins.
type Selectors struct {
	Editor      []string `yaml:"editor"`
	Description []string `yaml:"description"`
	Title       []string `yaml:"title"`
	Difficulty  string   `yaml:"difficulty"`
	Language    string   `yaml:"language"`
	CodeLines   string   `yaml:"code_lines"`
	CodeLine    string   `yaml:"code_line"`
	// DescriptionBlock is the element whose injection means a client-side
	// route transition has rendered a new problem.
	DescriptionBlock string `yaml:"description_block"`
	// TitleSuffix is stripped from <title> when no title element matches.
	TitleSuffix string `yaml:"title_suffix"`
	// LanguagePlaceholder is the selector text shown before a language is picked.
	LanguagePlaceholder string `yaml:"language_placeholder"`
}

// DefaultSelectors matches the current LeetCode problem layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Editor:      []string{".monaco-editor", "[data-monaco-editor-id]"},
		Description: []string{`[data-track-load="description_content"]`, ".description__24sA", ".content__u3I1"},
		Title: []string{
			`div[data-cy="question-title"]`,
			".mr-2",
			`div[data-track-load="description_content"] .mr-2`,
		},
		Difficulty:          ".text-olive, .text-yellow, .text-pink, .difficulty-label",
		Language:            `button.rounded.items-center.whitespace-nowrap.focus\:outline-none.inline-flex`,
		CodeLines:           ".view-lines",
		CodeLine:            ".view-line",
		DescriptionBlock:    `div[data-track-load="description_content"]`,
		TitleSuffix:         "- LeetCode",
		LanguagePlaceholder: "Choose a type",
	}
}

// WithDefaults fills empty fields from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if len(s.Editor) == 0 {
		s.Editor = d.Editor
	}
	if len(s.Description) == 0 {
		s.Description = d.Description
	}
	if len(s.Title) == 0 {
		s.Title = d.Title
	}
	if s.Difficulty == "" {
		s.Difficulty = d.Difficulty
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.CodeLines == "" {
		s.CodeLines = d.CodeLines
	}
	if s.CodeLine == "" {
		s.CodeLine = d.CodeLine
	}
	if s.DescriptionBlock == "" {
		s.DescriptionBlock = d.DescriptionBlock
	}
	if s.TitleSuffix == "" {
		s.TitleSuffix = d.TitleSuffix
	}
	if s.LanguagePlaceholder == "" {
		s.LanguagePlaceholder = d.LanguagePlaceholder
	}
	return s
}
