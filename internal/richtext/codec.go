package richtext

import "fmt"

// WireDoc is a backend-native rich-text payload tagged with its format.
// Exactly one of ADF or Text is populated.
type WireDoc struct {
	Format Format
	ADF    *ADFNode // Format == FormatADF
	Text   string   // Format == FormatMarkdown or FormatPlainText
}

// ToWire encodes a semantic document for the given wire format.
// Unsupported constructs degrade to their nearest supported
// approximation; each degradation is reported, never raised as an
// error. A nil or empty document encodes to an empty payload.
func ToWire(doc *Doc, format Format) (WireDoc, []Degradation) {
	switch format {
	case FormatADF:
		node, degs := toADF(doc)
		return WireDoc{Format: FormatADF, ADF: node}, degs
	case FormatMarkdown:
		text, degs := toMarkdown(doc)
		return WireDoc{Format: FormatMarkdown, Text: text}, degs
	default:
		text, degs := toPlainText(doc)
		return WireDoc{Format: FormatPlainText, Text: text}, degs
	}
}

// FromWire parses a backend-native payload into the semantic tree.
// Structured input is parsed node by node; plain text is split on
// blank lines into paragraphs so that FromWire(ToWire(d)) == d for
// documents built only from constructs the format supports.
func FromWire(w WireDoc) (*Doc, error) {
	switch w.Format {
	case FormatADF:
		return fromADF(w.ADF)
	case FormatMarkdown:
		return fromMarkdown(w.Text)
	case FormatPlainText:
		return fromPlainText(w.Text), nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", w.Format)
	}
}
