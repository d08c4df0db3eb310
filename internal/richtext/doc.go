// Package richtext defines the semantic rich-text document tree and its
// wire codecs. The tree is the canonical form stored and edited by
// consumers; backend encodings (ADF node trees, markdown, plain text)
// are derived or parsed only at the translation boundary.
package richtext

import (
	"sort"
	"strings"
)

// Format identifies a backend wire encoding for rich text.
type Format string

// Wire formats.
const (
	FormatADF       Format = "adf"       // Structured node tree (Jira Cloud)
	FormatMarkdown  Format = "markdown"  // Markdown string (Linear)
	FormatPlainText Format = "plaintext" // Flat text (Jira Server/DC v2)
)

// BlockType identifies a block-level node.
type BlockType string

// Block node types.
const (
	BlockParagraph   BlockType = "paragraph"
	BlockHeading     BlockType = "heading"
	BlockBulletList  BlockType = "bulletList"
	BlockOrderedList BlockType = "orderedList"
	BlockCodeBlock   BlockType = "codeBlock"
	BlockQuote       BlockType = "blockquote"
)

// MarkType identifies an inline formatting mark.
type MarkType string

// Inline mark types.
const (
	MarkBold   MarkType = "bold"
	MarkItalic MarkType = "italic"
	MarkCode   MarkType = "code"
	MarkStrike MarkType = "strike"
	MarkLink   MarkType = "link"
)

// Mark is one inline formatting attribute on a text run.
type Mark struct {
	Type MarkType
	Href string // Set only for MarkLink
}

// Inline is a run of text with zero or more marks.
type Inline struct {
	Text  string
	Marks []Mark
}

// ListItem is one entry of a bullet or ordered list. Items hold blocks
// so lists can nest.
type ListItem struct {
	Blocks []Block
}

// Block is a block-level node. Which fields are meaningful depends on
// Type: paragraphs and headings carry Inlines, lists carry Items, code
// blocks carry Language and Text, blockquotes carry Blocks.
type Block struct {
	Type     BlockType
	Level    int    // Heading level 1-6
	Language string // Code block language hint
	Text     string // Code block content
	Inlines  []Inline
	Items    []ListItem
	Blocks   []Block
}

// Doc is a semantic rich-text document.
type Doc struct {
	Blocks []Block
}

// Empty reports whether the document has no content.
func (d *Doc) Empty() bool {
	return d == nil || len(d.Blocks) == 0
}

// Text builds a single-paragraph document from plain text. Convenience
// for callers composing comments programmatically.
func Text(s string) *Doc {
	return &Doc{Blocks: []Block{Paragraph(s)}}
}

// Paragraph builds a paragraph block from an unmarked text run.
func Paragraph(s string) Block {
	return Block{Type: BlockParagraph, Inlines: []Inline{{Text: s}}}
}

// RawText returns the document's text content with all structure and
// marks dropped, blocks separated by newlines. List nesting is
// flattened; no text content is lost.
func (d *Doc) RawText() string {
	if d.Empty() {
		return ""
	}
	var lines []string
	for _, b := range d.Blocks {
		lines = append(lines, blockRawText(b)...)
	}
	return strings.Join(lines, "\n")
}

func blockRawText(b Block) []string {
	switch b.Type {
	case BlockParagraph, BlockHeading:
		return []string{inlinesText(b.Inlines)}
	case BlockCodeBlock:
		return strings.Split(b.Text, "\n")
	case BlockBulletList, BlockOrderedList:
		var lines []string
		for _, item := range b.Items {
			for _, child := range item.Blocks {
				lines = append(lines, blockRawText(child)...)
			}
		}
		return lines
	case BlockQuote:
		var lines []string
		for _, child := range b.Blocks {
			lines = append(lines, blockRawText(child)...)
		}
		return lines
	default:
		return nil
	}
}

func inlinesText(inlines []Inline) string {
	var b strings.Builder
	for _, in := range inlines {
		b.WriteString(in.Text)
	}
	return b.String()
}

// markRank fixes the canonical order of marks on a run.
var markRank = map[MarkType]int{
	MarkBold:   0,
	MarkItalic: 1,
	MarkStrike: 2,
	MarkCode:   3,
	MarkLink:   4,
}

// NormalizeMarks sorts marks into canonical order, in place, and
// returns the slice. The codecs normalize on both encode and decode, so
// a round-trip compares equal to its input no matter what order the
// marks were authored in.
func NormalizeMarks(marks []Mark) []Mark {
	sort.SliceStable(marks, func(i, j int) bool {
		return markRank[marks[i].Type] < markRank[marks[j].Type]
	})
	return marks
}

// HasMark reports whether the inline carries a mark of the given type.
func (in Inline) HasMark(t MarkType) bool {
	for _, m := range in.Marks {
		if m.Type == t {
			return true
		}
	}
	return false
}

// maxNestDepth bounds list nesting on structured wire formats. Deeper
// structures degrade to flattened paragraphs instead of failing the
// write.
const maxNestDepth = 6

// Degradation records one lossy approximation made while encoding a
// document for a wire format that cannot represent it exactly.
type Degradation struct {
	Construct string // e.g. "inline-marks", "nested-list"
	Detail    string
}

func (d Degradation) String() string {
	if d.Detail == "" {
		return d.Construct
	}
	return d.Construct + ": " + d.Detail
}
