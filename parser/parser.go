// Package parser turns raw response text into an ordered sequence of
// typed content blocks. Parse is a total, pure function: it never fails,
// performs no I/O, and the same input always yields the same blocks.
//
// The input is classified once into one of three document modes, in
// fixed precedence order:
//
//  1. chart wrapper markup (a pre-rendered embedded visualization),
//  2. inline Base64 image data without the wrapper,
//  3. markdown-lite prose with fenced code spans.
//
// Prose surrounding an image in modes 1 and 2 is re-parsed through the
// remaining rules, so a response can still mix charts with text.
package parser

import (
	"regexp"
	"strings"
)

// chartWrapperMarker is the structural signature the analysis service
// wraps generated figures in.
const chartWrapperMarker = `<div class="chart-container"`

const fence = "```"

var (
	reDataURI  = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	reImgSrc   = regexp.MustCompile(`<img[^>]*\bsrc="([^"]+)"`)
	reImgAlt   = regexp.MustCompile(`<img[^>]*\balt="([^"]*)"`)
	reDownload = regexp.MustCompile(`<a[^>]*\bhref="([^"]+)"[^>]*\bdownload(?:="([^"]*)")?`)
	reHeading  = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)
	reOrdered  = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	reBold     = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// rule identifies the first precedence rule a fragment is allowed to
// match. Surrounding prose extracted by rule 1 re-enters at rule 2, and
// fragments between Base64 payloads re-enter at rule 3.
type rule int

const (
	ruleChartWrapper rule = iota
	ruleInlineImage
	ruleMarkdown
)

// StripInlineImages replaces every Base64 image payload in text with the
// placeholder. The conversation store runs this before anything touches
// durable storage, so persisted history never carries image bytes.
func StripInlineImages(text, placeholder string) string {
	return reDataURI.ReplaceAllString(text, placeholder)
}

// Parse converts response text into renderable blocks.
func Parse(text string) []Block {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return parseFrom(text, ruleChartWrapper)
}

func parseFrom(text string, start rule) []Block {
	switch detectMode(text, start) {
	case ruleChartWrapper:
		return parseChartWrapper(text)
	case ruleInlineImage:
		return parseInlineImages(text)
	default:
		return parseMarkdown(text)
	}
}

// detectMode picks the document mode by marker presence alone.
func detectMode(text string, start rule) rule {
	if start <= ruleChartWrapper && strings.Contains(text, chartWrapperMarker) {
		return ruleChartWrapper
	}
	if start <= ruleInlineImage && reDataURI.MatchString(text) {
		return ruleInlineImage
	}
	return ruleMarkdown
}

// parseChartWrapper extracts one embedded visualization from wrapper
// markup and re-parses the prose around it.
func parseChartWrapper(text string) []Block {
	open := strings.Index(text, chartWrapperMarker)
	rest := text[open:]

	wrapper := rest
	after := ""
	if end := strings.Index(rest, "</div>"); end >= 0 {
		wrapper = rest[:end+len("</div>")]
		after = rest[end+len("</div>"):]
	}

	var blocks []Block
	if before := text[:open]; strings.TrimSpace(before) != "" {
		blocks = append(blocks, parseFrom(before, ruleInlineImage)...)
	}
	blocks = append(blocks, wrapperBlock(wrapper))
	if strings.TrimSpace(after) != "" {
		blocks = append(blocks, parseFrom(after, ruleInlineImage)...)
	}
	return blocks
}

func wrapperBlock(wrapper string) Block {
	src := reImgSrc.FindStringSubmatch(wrapper)
	if src == nil {
		// A wrapper without an image source is not renderable as a
		// visualization; pass the markup through untouched.
		return Block{Kind: KindPlain, Text: wrapper}
	}

	b := Block{Kind: KindImage, Src: src[1]}
	if alt := reImgAlt.FindStringSubmatch(wrapper); alt != nil {
		b.Alt = alt[1]
	}
	for _, line := range strings.Split(wrapper, "\n") {
		if m := reHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			b.Title = strings.TrimSpace(m[2])
			break
		}
	}
	if dl := reDownload.FindStringSubmatch(wrapper); dl != nil {
		b.DownloadURL = dl[1]
		b.DownloadName = dl[2]
	}
	return b
}

// parseInlineImages splits the text on Base64 data URIs, emitting an
// image block per payload and markdown blocks for the text in between.
func parseInlineImages(text string) []Block {
	var blocks []Block
	last := 0
	for _, loc := range reDataURI.FindAllStringIndex(text, -1) {
		if frag := text[last:loc[0]]; strings.TrimSpace(frag) != "" {
			blocks = append(blocks, parseMarkdown(frag)...)
		}
		blocks = append(blocks, Block{Kind: KindImage, Src: text[loc[0]:loc[1]], Alt: "visualization"})
		last = loc[1]
	}
	if frag := text[last:]; strings.TrimSpace(frag) != "" {
		blocks = append(blocks, parseMarkdown(frag)...)
	}
	return blocks
}

// parseMarkdown handles fenced code spans and line-oriented prose.
func parseMarkdown(text string) []Block {
	var blocks []Block
	rest := text
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			blocks = append(blocks, parseLines(rest)...)
			return blocks
		}
		blocks = append(blocks, parseLines(rest[:open])...)

		body := rest[open+len(fence):]
		nl := strings.Index(body, "\n")
		if nl < 0 {
			// Fence opened at the very end; whatever follows it is at
			// most a language tag.
			blocks = append(blocks, Block{Kind: KindFencedCode, Language: strings.TrimSpace(body)})
			return blocks
		}
		lang := strings.TrimSpace(body[:nl])
		body = body[nl+1:]

		end := strings.Index(body, fence)
		if end < 0 {
			blocks = append(blocks, Block{Kind: KindFencedCode, Language: lang, Code: strings.TrimRight(body, "\n")})
			return blocks
		}
		blocks = append(blocks, Block{Kind: KindFencedCode, Language: lang, Code: strings.TrimRight(body[:end], "\n")})
		rest = body[end+len(fence):]
	}
}

// parseLines classifies prose line by line. Consecutive plain lines
// accumulate into one paragraph; a blank line flushes it.
func parseLines(segment string) []Block {
	if strings.TrimSpace(segment) == "" {
		return nil
	}

	var blocks []Block
	var para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, inlineBlocks(strings.Join(para, " "))...)
		para = para[:0]
	}

	for _, line := range strings.Split(segment, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case reHeading.MatchString(trimmed):
			flush()
			m := reHeading.FindStringSubmatch(trimmed)
			blocks = append(blocks, Block{Kind: KindHeading, Level: len(m[1]), Text: strings.TrimSpace(m[2])})
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flush()
			blocks = append(blocks, Block{Kind: KindListItem, Text: strings.TrimSpace(trimmed[2:])})
		case reOrdered.MatchString(trimmed):
			flush()
			m := reOrdered.FindStringSubmatch(trimmed)
			blocks = append(blocks, Block{Kind: KindListItem, Text: m[1]})
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return blocks
}

// inlineBlocks renders one logical paragraph. A line holding a matched
// pair of single backticks is split into interleaved plain and inline
// code runs; otherwise it stays a single paragraph block. Backtick
// splitting applies to paragraph text only: a heading or list item is a
// single block in the output vocabulary, so those lines keep backticks
// verbatim.
func inlineBlocks(line string) []Block {
	if strings.Count(line, "`") >= 2 {
		return splitInlineCode(line)
	}
	return []Block{paragraphBlock(line)}
}

func paragraphBlock(text string) Block {
	b := Block{Kind: KindParagraph, Text: text}
	if reBold.MatchString(text) {
		b.Strong = true
		b.Text = reBold.ReplaceAllString(text, "$1")
	}
	return b
}

func splitInlineCode(line string) []Block {
	parts := strings.Split(line, "`")
	if len(parts)%2 == 0 {
		// Odd number of backticks: the last one has no partner, so it
		// belongs to the surrounding text.
		parts[len(parts)-2] += "`" + parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}
	var blocks []Block
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i%2 == 1 {
			blocks = append(blocks, Block{Kind: KindInlineCode, Text: part})
		} else {
			blocks = append(blocks, plainRun(part))
		}
	}
	return blocks
}

// plainRun builds a plain fragment of a split line, honoring a bold pair
// the same way paragraphBlock does so the markers never leak through.
func plainRun(text string) Block {
	b := Block{Kind: KindPlain, Text: text}
	if reBold.MatchString(text) {
		b.Strong = true
		b.Text = reBold.ReplaceAllString(text, "$1")
	}
	return b
}
