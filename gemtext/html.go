package gemtext

import (
	"html"
	"strings"
)

// A Resolver rewrites a link target for HTML output. The server passes
// one that maps wiki-relative targets to /page/<name> within the
// current space; absolute URLs come back unchanged.
type Resolver func(target string) string

// HTML renders gemtext to minimal, escaped HTML. Consecutive list
// items share one <ul>; preformatted blocks become one <pre>.
func HTML(src string, resolve Resolver) string {
	if resolve == nil {
		resolve = func(target string) string { return target }
	}
	var b strings.Builder
	var inList, inPre bool

	closeList := func() {
		if inList {
			b.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, line := range Parse(src) {
		if line.Type != TypeList {
			closeList()
		}
		switch line.Type {
		case TypeFence:
			if inPre {
				b.WriteString("</pre>\n")
			} else {
				b.WriteString("<pre>\n")
			}
			inPre = !inPre
		case TypePre:
			b.WriteString(html.EscapeString(line.Raw))
			b.WriteByte('\n')
		case TypeLink:
			label := line.Label
			if label == "" {
				label = line.URL
			}
			b.WriteString(`<p><a href="`)
			b.WriteString(html.EscapeString(resolve(line.URL)))
			b.WriteString(`">`)
			b.WriteString(html.EscapeString(label))
			b.WriteString("</a></p>\n")
		case TypeHeading:
			tag := [...]string{"h1", "h2", "h3"}[line.Level-1]
			b.WriteString("<" + tag + ">")
			b.WriteString(html.EscapeString(line.Label))
			b.WriteString("</" + tag + ">\n")
		case TypeList:
			if !inList {
				b.WriteString("<ul>\n")
				inList = true
			}
			b.WriteString("<li>")
			b.WriteString(html.EscapeString(line.Label))
			b.WriteString("</li>\n")
		case TypeQuote:
			b.WriteString("<blockquote>")
			b.WriteString(html.EscapeString(line.Label))
			b.WriteString("</blockquote>\n")
		default:
			if line.Raw == "" {
				b.WriteString("<br/>\n")
				continue
			}
			b.WriteString("<p>")
			b.WriteString(html.EscapeString(line.Raw))
			b.WriteString("</p>\n")
		}
	}
	closeList()
	if inPre {
		// unbalanced fence at end of page
		b.WriteString("</pre>\n")
	}
	return b.String()
}
