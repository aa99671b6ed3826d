// Package gemtext classifies the line-oriented markup used by Gemini
// and renders it to HTML. Gemini output needs no rendering: a gemtext
// response is the source text verbatim.
package gemtext

import "strings"

// LineType is the classification of one gemtext line.
type LineType int

const (
	// TypeText is an ordinary paragraph line.
	TypeText LineType = iota
	// TypeLink is a => link line.
	TypeLink
	// TypeHeading is a #, ## or ### heading.
	TypeHeading
	// TypeList is a * list item.
	TypeList
	// TypeQuote is a > blockquote line.
	TypeQuote
	// TypePre is a content line inside a preformatted block.
	TypePre
	// TypeFence is the ``` line toggling preformatted mode.
	TypeFence
)

// A Line is one classified line of gemtext.
type Line struct {
	Type  LineType
	Raw   string // the line as written, terminator stripped
	Level int    // heading level, 1 to 3
	URL   string // link target
	Label string // link label, heading text, list item, or quote text
}

// Parse splits src into lines and classifies each one. Inside a
// preformatted block no classification beyond the closing fence
// applies.
func Parse(src string) []Line {
	var out []Line
	pre := false
	for _, raw := range splitLines(src) {
		out = append(out, classify(raw, &pre))
	}
	return out
}

// splitLines splits on LF and drops a trailing empty element produced
// by a final newline, so "a\n" is one line, not two.
func splitLines(src string) []string {
	if src == "" {
		return nil
	}
	lines := strings.Split(src, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func classify(raw string, pre *bool) Line {
	if raw == "```" {
		*pre = !*pre
		return Line{Type: TypeFence, Raw: raw}
	}
	if *pre {
		return Line{Type: TypePre, Raw: raw}
	}
	if rest, ok := strings.CutPrefix(raw, "=>"); ok {
		trimmed := strings.TrimLeft(rest, " \t")
		if trimmed != rest && trimmed != "" {
			url, label := trimmed, ""
			if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
				url, label = trimmed[:i], strings.TrimLeft(trimmed[i+1:], " \t")
			}
			return Line{Type: TypeLink, Raw: raw, URL: url, Label: label}
		}
	}
	for level := 3; level >= 1; level-- {
		marker := strings.Repeat("#", level) + " "
		if rest, ok := strings.CutPrefix(raw, marker); ok {
			return Line{Type: TypeHeading, Raw: raw, Level: level, Label: rest}
		}
	}
	if rest, ok := strings.CutPrefix(raw, "* "); ok {
		return Line{Type: TypeList, Raw: raw, Label: rest}
	}
	if rest, ok := strings.CutPrefix(raw, "> "); ok {
		return Line{Type: TypeQuote, Raw: raw, Label: rest}
	}
	return Line{Type: TypeText, Raw: raw, Label: raw}
}
