package richtext

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gtext "github.com/yuin/goldmark/text"
)

// markdown is the shared parser used by fromMarkdown. Strikethrough is
// the one GFM extension the GraphQL backend's editor emits.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// toMarkdown renders the semantic tree as markdown. Markdown can
// represent every construct in the model, so the only reported
// degradation is an over-deep list being flattened.
func toMarkdown(doc *Doc) (string, []Degradation) {
	if doc.Empty() {
		return "", nil
	}

	var degs []Degradation
	var parts []string
	for _, b := range doc.Blocks {
		text, blockDegs := markdownBlock(b, 0)
		degs = append(degs, blockDegs...)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n") + "\n", degs
}

func markdownBlock(b Block, depth int) (string, []Degradation) {
	switch b.Type {
	case BlockParagraph:
		return markdownInlines(b.Inlines), nil

	case BlockHeading:
		level := b.Level
		if level < 1 || level > 6 {
			level = 1
		}
		return strings.Repeat("#", level) + " " + markdownInlines(b.Inlines), nil

	case BlockCodeBlock:
		return "```" + b.Language + "\n" + strings.TrimRight(b.Text, "\n") + "\n```", nil

	case BlockBulletList, BlockOrderedList:
		return markdownList(b, depth)

	case BlockQuote:
		var degs []Degradation
		var lines []string
		for _, child := range b.Blocks {
			text, childDegs := markdownBlock(child, depth)
			degs = append(degs, childDegs...)
			for _, line := range strings.Split(text, "\n") {
				lines = append(lines, "> "+line)
			}
		}
		return strings.Join(lines, "\n"), degs

	default:
		return strings.Join(blockRawText(b), "\n"), nil
	}
}

func markdownList(b Block, depth int) (string, []Degradation) {
	if depth > maxNestDepth {
		var degs []Degradation
		degs = append(degs, Degradation{
			Construct: "nested-list",
			Detail:    fmt.Sprintf("depth %d flattened to lines", depth),
		})
		return strings.Join(blockRawText(b), "\n"), degs
	}

	var degs []Degradation
	var lines []string
	for i, item := range b.Items {
		marker := "- "
		if b.Type == BlockOrderedList {
			marker = fmt.Sprintf("%d. ", i+1)
		}
		indent := strings.Repeat("  ", depth)
		contIndent := indent + strings.Repeat(" ", len(marker))

		first := true
		for _, child := range item.Blocks {
			// Nested lists handle their own indentation relative to
			// the item's content column.
			if child.Type == BlockBulletList || child.Type == BlockOrderedList {
				text, childDegs := markdownList(child, depth+1)
				degs = append(degs, childDegs...)
				lines = append(lines, strings.Split(text, "\n")...)
				continue
			}
			text, childDegs := markdownBlock(child, depth+1)
			degs = append(degs, childDegs...)
			for _, line := range strings.Split(text, "\n") {
				if first {
					lines = append(lines, indent+marker+line)
					first = false
				} else {
					lines = append(lines, contIndent+line)
				}
			}
		}
	}
	return strings.Join(lines, "\n"), degs
}

func markdownInlines(inlines []Inline) string {
	var b strings.Builder
	for _, in := range inlines {
		b.WriteString(markdownRun(in))
	}
	return b.String()
}

func markdownRun(in Inline) string {
	text := in.Text
	href := ""

	// Code wins over the other marks: its content is rendered verbatim.
	if in.HasMark(MarkCode) {
		return "`" + text + "`"
	}

	for _, m := range NormalizeMarks(cloneMarks(in.Marks)) {
		switch m.Type {
		case MarkBold:
			text = "**" + text + "**"
		case MarkItalic:
			text = "*" + text + "*"
		case MarkStrike:
			text = "~~" + text + "~~"
		case MarkLink:
			href = m.Href
		}
	}
	if href != "" {
		text = "[" + text + "](" + href + ")"
	}
	return text
}

// fromMarkdown parses a markdown string into the semantic tree using
// the goldmark AST.
func fromMarkdown(src string) (*Doc, error) {
	doc := &Doc{}
	if strings.TrimSpace(src) == "" {
		return doc, nil
	}

	source := []byte(src)
	root := markdown.Parser().Parse(gtext.NewReader(source))

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		block, ok := mdBlock(node, source)
		if ok {
			doc.Blocks = append(doc.Blocks, block)
		}
	}
	return doc, nil
}

func mdBlock(node ast.Node, source []byte) (Block, bool) {
	switch n := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		inlines := mdInlines(node, source, nil)
		if len(inlines) == 0 {
			return Block{}, false
		}
		return Block{Type: BlockParagraph, Inlines: inlines}, true

	case *ast.Heading:
		return Block{
			Type:    BlockHeading,
			Level:   n.Level,
			Inlines: mdInlines(node, source, nil),
		}, true

	case *ast.FencedCodeBlock:
		return Block{
			Type:     BlockCodeBlock,
			Language: string(n.Language(source)),
			Text:     mdCodeLines(n, source),
		}, true

	case *ast.CodeBlock:
		return Block{Type: BlockCodeBlock, Text: mdCodeLines(n, source)}, true

	case *ast.List:
		blockType := BlockBulletList
		if n.IsOrdered() {
			blockType = BlockOrderedList
		}
		list := Block{Type: blockType}
		for itemNode := node.FirstChild(); itemNode != nil; itemNode = itemNode.NextSibling() {
			item := ListItem{}
			for child := itemNode.FirstChild(); child != nil; child = child.NextSibling() {
				childBlock, ok := mdBlock(child, source)
				if ok {
					item.Blocks = append(item.Blocks, childBlock)
				}
			}
			list.Items = append(list.Items, item)
		}
		return list, true

	case *ast.Blockquote:
		quote := Block{Type: BlockQuote}
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			childBlock, ok := mdBlock(child, source)
			if ok {
				quote.Blocks = append(quote.Blocks, childBlock)
			}
		}
		return quote, true

	default:
		return Block{}, false
	}
}

// mdCodeLines joins the raw source lines of a code block.
func mdCodeLines(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}

// mdInlines walks inline children collecting text runs, carrying the
// active mark stack down through emphasis/link wrappers.
func mdInlines(node ast.Node, source []byte, marks []Mark) []Inline {
	var inlines []Inline
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Text:
			text := string(n.Segment.Value(source))
			if text != "" {
				inlines = appendRun(inlines, Inline{Text: text, Marks: NormalizeMarks(cloneMarks(marks))})
			}
			if n.SoftLineBreak() || n.HardLineBreak() {
				inlines = appendRun(inlines, Inline{Text: " ", Marks: NormalizeMarks(cloneMarks(marks))})
			}

		case *ast.String:
			inlines = appendRun(inlines, Inline{Text: string(n.Value), Marks: NormalizeMarks(cloneMarks(marks))})

		case *ast.Emphasis:
			mark := Mark{Type: MarkItalic}
			if n.Level >= 2 {
				mark.Type = MarkBold
			}
			inlines = append(inlines, mdInlines(child, source, append(cloneMarks(marks), mark))...)

		case *east.Strikethrough:
			inlines = append(inlines, mdInlines(child, source, append(cloneMarks(marks), Mark{Type: MarkStrike}))...)

		case *ast.CodeSpan:
			var text strings.Builder
			for c := child.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					text.Write(t.Segment.Value(source))
				}
			}
			inlines = appendRun(inlines, Inline{
				Text:  text.String(),
				Marks: NormalizeMarks(append(cloneMarks(marks), Mark{Type: MarkCode})),
			})

		case *ast.Link:
			mark := Mark{Type: MarkLink, Href: string(n.Destination)}
			inlines = append(inlines, mdInlines(child, source, append(cloneMarks(marks), mark))...)

		case *ast.AutoLink:
			url := string(n.URL(source))
			inlines = appendRun(inlines, Inline{
				Text:  url,
				Marks: NormalizeMarks(append(cloneMarks(marks), Mark{Type: MarkLink, Href: url})),
			})

		default:
			inlines = append(inlines, mdInlines(child, source, marks)...)
		}
	}
	return inlines
}

// appendRun appends a run, merging with the previous one when the mark
// sets are identical. Goldmark splits text at arbitrary points; merging
// normalizes the tree so round-trips compare equal.
func appendRun(inlines []Inline, run Inline) []Inline {
	if len(inlines) > 0 {
		last := &inlines[len(inlines)-1]
		if marksEqual(last.Marks, run.Marks) && !last.HasMark(MarkCode) {
			last.Text += run.Text
			return inlines
		}
	}
	return append(inlines, run)
}

func cloneMarks(marks []Mark) []Mark {
	if marks == nil {
		return nil
	}
	return append([]Mark(nil), marks...)
}

func marksEqual(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
