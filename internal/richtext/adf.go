package richtext

import (
	"fmt"
	"strings"
)

// ADFNode is one node of an Atlassian Document Format tree, the
// structured rich-text encoding used by Jira Cloud (REST v3).
type ADFNode struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"` // Root "doc" node only
	Content []ADFNode      `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []ADFMark      `json:"marks,omitempty"`
}

// ADFMark is an inline formatting mark on an ADF text node.
type ADFMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// adfVersion is the only document version the ADF schema defines.
const adfVersion = 1

// toADF emits one wire node per semantic node, preserving marks as
// node attributes. Lists nested beyond maxNestDepth degrade to
// flattened paragraphs rather than failing the write.
func toADF(doc *Doc) (*ADFNode, []Degradation) {
	root := &ADFNode{Type: "doc", Version: adfVersion, Content: []ADFNode{}}
	if doc.Empty() {
		return root, nil
	}

	var degs []Degradation
	for _, b := range doc.Blocks {
		nodes, blockDegs := adfBlock(b, 1)
		root.Content = append(root.Content, nodes...)
		degs = append(degs, blockDegs...)
	}
	return root, degs
}

// adfBlock encodes one block. It may return multiple nodes when a
// too-deep structure is flattened.
func adfBlock(b Block, depth int) ([]ADFNode, []Degradation) {
	switch b.Type {
	case BlockParagraph:
		return []ADFNode{{Type: "paragraph", Content: adfInlines(b.Inlines)}}, nil

	case BlockHeading:
		level := b.Level
		if level < 1 || level > 6 {
			level = 1
		}
		return []ADFNode{{
			Type:    "heading",
			Attrs:   map[string]any{"level": level},
			Content: adfInlines(b.Inlines),
		}}, nil

	case BlockCodeBlock:
		node := ADFNode{Type: "codeBlock", Content: []ADFNode{{Type: "text", Text: b.Text}}}
		if b.Language != "" {
			node.Attrs = map[string]any{"language": b.Language}
		}
		return []ADFNode{node}, nil

	case BlockBulletList, BlockOrderedList:
		if depth > maxNestDepth {
			// Too deep for the schema profile we target: flatten each
			// item to a paragraph. Raw text is preserved.
			deg := Degradation{
				Construct: "nested-list",
				Detail:    fmt.Sprintf("depth %d flattened to paragraphs", depth),
			}
			var nodes []ADFNode
			var degs []Degradation
			for _, item := range b.Items {
				for _, child := range item.Blocks {
					childNodes, childDegs := adfBlock(child, depth)
					nodes = append(nodes, childNodes...)
					degs = append(degs, childDegs...)
				}
			}
			return nodes, append([]Degradation{deg}, degs...)
		}

		nodeType := "bulletList"
		if b.Type == BlockOrderedList {
			nodeType = "orderedList"
		}
		list := ADFNode{Type: nodeType}
		var degs []Degradation
		for _, item := range b.Items {
			itemNode := ADFNode{Type: "listItem"}
			for _, child := range item.Blocks {
				childNodes, childDegs := adfBlock(child, depth+1)
				itemNode.Content = append(itemNode.Content, childNodes...)
				degs = append(degs, childDegs...)
			}
			list.Content = append(list.Content, itemNode)
		}
		return []ADFNode{list}, degs

	case BlockQuote:
		quote := ADFNode{Type: "blockquote"}
		var degs []Degradation
		for _, child := range b.Blocks {
			childNodes, childDegs := adfBlock(child, depth+1)
			quote.Content = append(quote.Content, childNodes...)
			degs = append(degs, childDegs...)
		}
		return []ADFNode{quote}, degs

	default:
		// Unknown block kinds degrade to a paragraph of their raw text.
		text := strings.Join(blockRawText(b), " ")
		return []ADFNode{{Type: "paragraph", Content: []ADFNode{{Type: "text", Text: text}}}},
			[]Degradation{{Construct: string(b.Type), Detail: "degraded to paragraph"}}
	}
}

func adfInlines(inlines []Inline) []ADFNode {
	nodes := make([]ADFNode, 0, len(inlines))
	for _, in := range inlines {
		node := ADFNode{Type: "text", Text: in.Text}
		for _, m := range NormalizeMarks(cloneMarks(in.Marks)) {
			node.Marks = append(node.Marks, adfMark(m))
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func adfMark(m Mark) ADFMark {
	switch m.Type {
	case MarkBold:
		return ADFMark{Type: "strong"}
	case MarkItalic:
		return ADFMark{Type: "em"}
	case MarkCode:
		return ADFMark{Type: "code"}
	case MarkStrike:
		return ADFMark{Type: "strike"}
	case MarkLink:
		return ADFMark{Type: "link", Attrs: map[string]any{"href": m.Href}}
	default:
		return ADFMark{Type: string(m.Type)}
	}
}

// fromADF parses a structured wire document node by node. Unknown node
// types are skipped after salvaging their text content so that a newer
// server schema never fails a read.
func fromADF(root *ADFNode) (*Doc, error) {
	doc := &Doc{}
	if root == nil {
		return doc, nil
	}
	if root.Type != "doc" {
		return nil, fmt.Errorf("unexpected ADF root node %q", root.Type)
	}

	for _, node := range root.Content {
		block, ok := semanticBlock(node)
		if ok {
			doc.Blocks = append(doc.Blocks, block)
		}
	}
	return doc, nil
}

func semanticBlock(node ADFNode) (Block, bool) {
	switch node.Type {
	case "paragraph":
		return Block{Type: BlockParagraph, Inlines: semanticInlines(node.Content)}, true

	case "heading":
		level := 1
		if v, ok := node.Attrs["level"]; ok {
			switch n := v.(type) {
			case float64:
				level = int(n)
			case int:
				level = n
			}
		}
		return Block{Type: BlockHeading, Level: level, Inlines: semanticInlines(node.Content)}, true

	case "codeBlock":
		var text strings.Builder
		for _, child := range node.Content {
			text.WriteString(child.Text)
		}
		lang := ""
		if v, ok := node.Attrs["language"].(string); ok {
			lang = v
		}
		return Block{Type: BlockCodeBlock, Language: lang, Text: text.String()}, true

	case "bulletList", "orderedList":
		blockType := BlockBulletList
		if node.Type == "orderedList" {
			blockType = BlockOrderedList
		}
		list := Block{Type: blockType}
		for _, itemNode := range node.Content {
			if itemNode.Type != "listItem" {
				continue
			}
			item := ListItem{}
			for _, child := range itemNode.Content {
				childBlock, ok := semanticBlock(child)
				if ok {
					item.Blocks = append(item.Blocks, childBlock)
				}
			}
			list.Items = append(list.Items, item)
		}
		return list, true

	case "blockquote":
		quote := Block{Type: BlockQuote}
		for _, child := range node.Content {
			childBlock, ok := semanticBlock(child)
			if ok {
				quote.Blocks = append(quote.Blocks, childBlock)
			}
		}
		return quote, true

	default:
		// Salvage text content of unknown nodes as a paragraph.
		text := adfRawText(node)
		if text == "" {
			return Block{}, false
		}
		return Paragraph(text), true
	}
}

func semanticInlines(nodes []ADFNode) []Inline {
	var inlines []Inline
	for _, node := range nodes {
		switch node.Type {
		case "text":
			in := Inline{Text: node.Text}
			for _, m := range node.Marks {
				in.Marks = append(in.Marks, semanticMark(m))
			}
			in.Marks = NormalizeMarks(in.Marks)
			inlines = append(inlines, in)
		case "hardBreak":
			inlines = append(inlines, Inline{Text: "\n"})
		default:
			if text := adfRawText(node); text != "" {
				inlines = append(inlines, Inline{Text: text})
			}
		}
	}
	return inlines
}

func semanticMark(m ADFMark) Mark {
	switch m.Type {
	case "strong":
		return Mark{Type: MarkBold}
	case "em":
		return Mark{Type: MarkItalic}
	case "code":
		return Mark{Type: MarkCode}
	case "strike":
		return Mark{Type: MarkStrike}
	case "link":
		href := ""
		if v, ok := m.Attrs["href"].(string); ok {
			href = v
		}
		return Mark{Type: MarkLink, Href: href}
	default:
		return Mark{Type: MarkType(m.Type)}
	}
}

func adfRawText(node ADFNode) string {
	if node.Text != "" {
		return node.Text
	}
	var parts []string
	for _, child := range node.Content {
		if text := adfRawText(child); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
