// Package render turns a markdown mentor answer into sanitised HTML, with
// fenced code shown as labelled code blocks.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

var aliases = map[string]string{
	"cpp":        "cpp",
	"c++":        "cpp",
	"c":          "cpp",
	"c#":         "csharp",
	"cs":         "csharp",
	"csharp":     "csharp",
	"javascript": "javascript",
	"js":         "javascript",
	"python":     "python",
	"py":         "python",
	"java":       "java",
}

var displayNames = map[string]string{
	"cpp":        "C++",
	"csharp":     "C#",
	"javascript": "JavaScript",
	"python":     "Python",
	"java":       "Java",
}

// Language normalises a fence language and returns it with its display
// name. Unknown languages keep their lower-cased name and display as "Code".
func Language(lang string) (name, display string) {
	name = strings.ToLower(strings.TrimSpace(lang))
	if a, ok := aliases[name]; ok {
		name = a
	}
	if d, ok := displayNames[name]; ok {
		return name, d
	}
	return name, "Code"
}

// brokenFence matches a fence opened with two backticks and closed with one.
var brokenFence = regexp.MustCompile("(?s)(^|[^`])``(\\w+)\\n(.*?)`([^`]|$)")

// RepairFences rewrites ``lang ... ` fences into proper ``` fences.
func RepairFences(md string) string {
	return brokenFence.ReplaceAllString(md, "$1```$2\n$3```$4")
}

var classUnsafe = regexp.MustCompile(`[^a-z0-9_-]`)

// Renderer converts answers. Safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a Renderer.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&codeRenderer{}, 100)),
		),
	)
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("div", "span", "pre", "code")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z0-9_\- ]+$`)).OnElements("div", "span", "code", "pre")
	return &Renderer{md: md, policy: policy}
}

// HTML renders md and sanitises the result.
func (r *Renderer) HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(RepairFences(md)), &buf); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

type codeRenderer struct{}

func (r *codeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCode)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
}

func (r *codeRenderer) renderFencedCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	name, display := Language(string(n.Language(source)))
	name = classUnsafe.ReplaceAllString(name, "")

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}

	w.WriteString(`<div class="code-block`)
	if name != "" {
		w.WriteString(" " + name)
	}
	w.WriteString(`"><div class="code-header">` + display + `</div><pre><code>`)
	w.Write(util.EscapeHTML(bytes.Trim(code.Bytes(), "\n")))
	w.WriteString("</code></pre></div>\n")
	return ast.WalkSkipChildren, nil
}

func (r *codeRenderer) renderCodeSpan(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		w.WriteString("</span>")
		return ast.WalkContinue, nil
	}
	w.WriteString(`<span class="inline-code">`)
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			w.Write(util.EscapeHTML(t.Segment.Value(source)))
		case *ast.String:
			w.Write(util.EscapeHTML(t.Value))
		}
	}
	return ast.WalkSkipChildren, nil
}
