// Package extract reads problem fields out of a serialised page DOM.
//
// Every lookup degrades to a default (empty string, Unknown difficulty,
// unresolved language) when its selectors match nothing; nothing here
// returns an error for a missing element.
package extract

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/codementor/problem"
)

// Document is a parsed page.
type Document struct {
	doc *goquery.Document
	sel Selectors
	url string
}

// Landmarks records which of the elements required before the first
// extraction are present.
type Landmarks struct {
	Editor      bool `json:"editor"`
	Description bool `json:"description"`
	Title       bool `json:"title"`
}

// Ready reports whether all three landmarks are present.
func (l Landmarks) Ready() bool {
	return l.Editor && l.Description && l.Title
}

// Parse parses a full HTML document served from pageURL.
func Parse(src, pageURL string, sel Selectors) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("extract: parse: %w", err)
	}
	return &Document{doc: doc, sel: sel.WithDefaults(), url: pageURL}, nil
}

// first returns the first element matched by the first selector in
// candidates that matches anything.
func (d *Document) first(candidates []string) *goquery.Selection {
	for _, c := range candidates {
		if s := d.doc.Find(c).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// Landmarks checks the load landmarks.
func (d *Document) Landmarks() Landmarks {
	return Landmarks{
		Editor:      d.first(d.sel.Editor) != nil,
		Description: d.first(d.sel.Description[:min(2, len(d.sel.Description))]) != nil,
		Title:       d.first(d.sel.Title[:min(2, len(d.sel.Title))]) != nil,
	}
}

// HasDescriptionBlock reports whether the description block is rendered.
func (d *Document) HasDescriptionBlock() bool {
	return d.doc.Find(d.sel.DescriptionBlock).Length() > 0
}

// Language returns the selected programming language, or "" while the
// selector is missing or still shows its placeholder. Only the button's
// first direct text node is read; the dropdown chevron is a child element.
func (d *Document) Language() string {
	btn := d.doc.Find(d.sel.Language).First()
	if btn.Length() == 0 {
		return ""
	}
	var lang string
	btn.Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n := s.Get(0); n.Type == html.TextNode {
			lang = strings.TrimSpace(n.Data)
			return false
		}
		return true
	})
	if lang == d.sel.LanguagePlaceholder {
		return ""
	}
	return lang
}

// Title returns the problem title, falling back to the document <title>
// with the site suffix removed.
func (d *Document) Title() string {
	if s := d.first(d.sel.Title); s != nil {
		if t := strings.TrimSpace(s.Text()); t != "" {
			return t
		}
	}
	title := d.doc.Find("title").First().Text()
	if i := strings.Index(title, d.sel.TitleSuffix); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// Description returns the trimmed text content of the description block.
func (d *Document) Description() string {
	if s := d.first(d.sel.Description); s != nil {
		return strings.TrimSpace(s.Text())
	}
	return ""
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// DescriptionMarkdown converts the description block to markdown, keeping
// examples and constraints readable in prompts. Falls back to the plain
// text when conversion fails.
func (d *Document) DescriptionMarkdown() string {
	s := d.first(d.sel.Description)
	if s == nil {
		return ""
	}
	frag, err := goquery.OuterHtml(s)
	if err != nil {
		return strings.TrimSpace(s.Text())
	}
	md, err := mdConverter.ConvertString(frag, converter.WithDomain(d.url))
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(s.Text())
	}
	return strings.TrimSpace(md)
}

// Difficulty classifies the first difficulty element by text, then by
// colour class. Easy is checked before Medium before Hard.
func (d *Document) Difficulty() problem.Difficulty {
	s := d.doc.Find(d.sel.Difficulty).First()
	if s.Length() == 0 {
		return problem.Unknown
	}
	text := strings.ToLower(strings.TrimSpace(s.Text()))
	switch {
	case strings.Contains(text, "easy") || s.HasClass("text-olive"):
		return problem.Easy
	case strings.Contains(text, "medium") || s.HasClass("text-yellow"):
		return problem.Medium
	case strings.Contains(text, "hard") || s.HasClass("text-pink"):
		return problem.Hard
	}
	return problem.Unknown
}

// Code returns the editor contents: one line per rendered line element in
// document order, each the concatenation of its text runs, the whole
// trimmed. The editor renders indentation as non-breaking spaces.
func (d *Document) Code() string {
	area := d.doc.Find(d.sel.CodeLines).First()
	if area.Length() == 0 {
		return ""
	}
	var lines []string
	area.Find(d.sel.CodeLine).Each(func(_ int, line *goquery.Selection) {
		var b strings.Builder
		for _, n := range line.Nodes {
			writeRuns(&b, n, false)
		}
		lines = append(lines, strings.ReplaceAll(b.String(), "\u00a0", " "))
	})
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// writeRuns appends, in document order, every text node below n that sits
// inside a span, including text beside nested token spans.
func writeRuns(b *strings.Builder, n *html.Node, inSpan bool) {
	if n.Type == html.TextNode {
		if inSpan {
			b.WriteString(n.Data)
		}
		return
	}
	inSpan = inSpan || (n.Type == html.ElementNode && n.Data == "span")
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeRuns(b, c, inSpan)
	}
}

// URL returns the location the document was captured from.
func (d *Document) URL() string {
	return d.url
}
