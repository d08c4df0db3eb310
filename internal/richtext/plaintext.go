package richtext

import "strings"

// toPlainText flattens the tree to plain text. Block boundaries become
// newlines (blank line between top-level blocks), inline marks are
// dropped, list items become one line each with nesting flattened.
// Structural and style loss is reported; raw text content is preserved
// in full.
func toPlainText(doc *Doc) (string, []Degradation) {
	if doc.Empty() {
		return "", nil
	}

	var degs []Degradation
	var parts []string
	for _, b := range doc.Blocks {
		text, blockDegs := plainBlock(b, 0)
		degs = append(degs, blockDegs...)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), degs
}

func plainBlock(b Block, depth int) (string, []Degradation) {
	var degs []Degradation

	switch b.Type {
	case BlockParagraph:
		text, markDegs := plainInlines(b.Inlines)
		return text, markDegs

	case BlockHeading:
		text, markDegs := plainInlines(b.Inlines)
		degs = append(degs, Degradation{Construct: "heading", Detail: "rendered as plain line"})
		return text, append(degs, markDegs...)

	case BlockCodeBlock:
		degs = append(degs, Degradation{Construct: "code-block", Detail: "fence dropped"})
		return b.Text, degs

	case BlockBulletList, BlockOrderedList:
		if depth == 0 {
			degs = append(degs, Degradation{Construct: "list", Detail: "flattened to lines"})
		}
		var lines []string
		for _, item := range b.Items {
			for _, child := range item.Blocks {
				text, childDegs := plainBlock(child, depth+1)
				degs = append(degs, childDegs...)
				if text != "" {
					lines = append(lines, text)
				}
			}
		}
		return strings.Join(lines, "\n"), degs

	case BlockQuote:
		degs = append(degs, Degradation{Construct: "blockquote", Detail: "quote marker dropped"})
		var lines []string
		for _, child := range b.Blocks {
			text, childDegs := plainBlock(child, depth+1)
			degs = append(degs, childDegs...)
			if text != "" {
				lines = append(lines, text)
			}
		}
		return strings.Join(lines, "\n"), degs

	default:
		return "", nil
	}
}

func plainInlines(inlines []Inline) (string, []Degradation) {
	var degs []Degradation
	var b strings.Builder
	for _, in := range inlines {
		if len(in.Marks) > 0 {
			degs = append(degs, Degradation{Construct: "inline-marks", Detail: "marks dropped"})
		}
		b.WriteString(in.Text)
	}
	return b.String(), degs
}

// fromPlainText wraps flat text as a semantic tree. Blank-line-separated
// segments become paragraphs, each a single unmarked run with interior
// newlines collapsed to spaces.
func fromPlainText(text string) *Doc {
	trimmed := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if trimmed == "" {
		return &Doc{}
	}

	segments := strings.Split(trimmed, "\n\n")
	doc := &Doc{Blocks: make([]Block, 0, len(segments))}
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		seg = strings.ReplaceAll(seg, "\n", " ")
		doc.Blocks = append(doc.Blocks, Paragraph(seg))
	}
	return doc
}
