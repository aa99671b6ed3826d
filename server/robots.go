package server

import (
	"fmt"
	"strings"
)

// the derived views crawlers should stay away from
var robotsDisallowed = []string{
	"raw/*",
	"html/*",
	"diff/*",
	"history/*",
	"do/changes*",
	"do/all/changes*",
	"do/rss",
	"do/atom",
	"do/all/atom",
	"do/new",
	"do/more/*",
	"do/match",
	"do/search",
}

// robotsResponse serves the robots policy. A space's robots page, when
// someone wrote one, is served verbatim; otherwise a stanza is
// synthesized. At the root, the synthesized stanzas of every space of
// the host are concatenated, which can produce several User-agent
// blocks; strict crawlers are on their own there.
func (s *Server) robotsResponse(cfg *Config, r *Request) *Response {
	if p, err := cfg.Store.ReadPage(r.Space, "robots"); err == nil {
		return &Response{Status: StatusSuccess, Meta: mimePlain, Body: []byte(p.Text)}
	}
	var b strings.Builder
	if r.Space == "" {
		for _, space := range s.hostSpaces(cfg, r) {
			robotsStanza(&b, space)
		}
	} else {
		robotsStanza(&b, r.Space)
	}
	return &Response{Status: StatusSuccess, Meta: mimePlain, Body: []byte(b.String())}
}

func robotsStanza(b *strings.Builder, space string) {
	prefix := "/"
	if space != "" {
		prefix = "/" + space + "/"
	}
	b.WriteString("User-agent: *\n")
	for _, path := range robotsDisallowed {
		fmt.Fprintf(b, "Disallow: %s%s\n", prefix, path)
	}
	b.WriteString("Crawl-delay: 10\n")
}
