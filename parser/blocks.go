package parser

// Kind discriminates the variants of a content block.
type Kind string

const (
	KindParagraph  Kind = "paragraph"
	KindHeading    Kind = "heading"
	KindListItem   Kind = "list_item"
	KindInlineCode Kind = "inline_code"
	KindFencedCode Kind = "fenced_code"
	KindImage      Kind = "image"
	KindPlain      Kind = "plain"
)

// Block is one render-ready unit of a parsed response. It is a tagged
// union: Kind selects which of the remaining fields are meaningful.
// Blocks are derived on every render pass and never persisted.
type Block struct {
	Kind Kind `json:"kind"`

	// Paragraph, heading, list item, inline code and plain blocks.
	Text string `json:"text,omitempty"`

	// Heading depth, 1-3.
	Level int `json:"level,omitempty"`

	// Paragraph carrying a **bold** span.
	Strong bool `json:"strong,omitempty"`

	// Fenced code.
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`

	// Embedded image.
	Src          string `json:"src,omitempty"`
	Alt          string `json:"alt,omitempty"`
	Title        string `json:"title,omitempty"`
	DownloadURL  string `json:"download_url,omitempty"`
	DownloadName string `json:"download_name,omitempty"`
}
