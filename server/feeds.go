package server

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/phoebewiki/phoebe/wiki"
)

// how many change-log entries a feed carries
const feedSize = 30

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate"`
	Description string  `xml:"description"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	XMLNS   string      `xml:"xmlns,attr"`
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	ID      string     `xml:"id"`
	Updated string     `xml:"updated"`
	Links   []atomLink `xml:"link"`
	Author  atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// feedGUID builds the stable identifier of one change. It never varies
// across feed regenerations, so readers do not see duplicates.
func feedGUID(host string, c wiki.Change) string {
	return fmt.Sprintf("tag:%s,%s:%s/%s?rev=%d",
		host, c.Time.Format("2006-01-02"), c.Space, c.Name, c.Revision)
}

// feedLink is the absolute Gemini URL of a changed resource.
func feedLink(cfg *Config, host string, c wiki.Change) string {
	prefix := ""
	if c.Space != "" {
		prefix = "/" + c.Space
	}
	kind := "page"
	if c.IsFile() {
		kind = "file"
	}
	return fmt.Sprintf("gemini://%s:%s%s/%s/%s",
		host, cfg.Port, prefix, kind, url.PathEscape(c.Name))
}

func (s *Server) rssResponse(cfg *Config, r *Request, spaces []string) *Response {
	changes, _, err := s.collectChanges(cfg, spaces, 0, feedSize)
	if err != nil {
		return storeError(err)
	}
	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       r.Host,
			Link:        fmt.Sprintf("gemini://%s:%s%s/", r.Host, cfg.Port, r.prefix()),
			Description: "Recent changes on this wiki.",
		},
	}
	for _, c := range changes {
		what := fmt.Sprintf("%s was edited (revision %d)", c.Name, c.Revision)
		if c.IsFile() {
			what = fmt.Sprintf("%s was uploaded", c.Name)
		}
		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title:       c.Name,
			Link:        feedLink(cfg, r.Host, c),
			GUID:        rssGUID{IsPermaLink: "false", Value: feedGUID(r.Host, c)},
			PubDate:     c.Time.Format(time.RFC1123Z),
			Description: what,
		})
	}
	body, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		logf(1, "rss: %v", err)
		return failf(StatusTemporaryFailure, "feed generation failed")
	}
	return &Response{
		Status: StatusSuccess,
		Meta:   mimeRSS,
		Body:   append([]byte(xml.Header), body...),
	}
}

func (s *Server) atomResponse(cfg *Config, r *Request, spaces []string) *Response {
	changes, _, err := s.collectChanges(cfg, spaces, 0, feedSize)
	if err != nil {
		return storeError(err)
	}
	self := fmt.Sprintf("gemini://%s:%s%s%s", r.Host, cfg.Port, r.prefix(), r.URL.Path)
	updated := cfg.Clock.Now().UTC()
	if len(changes) > 0 {
		updated = changes[0].Time
	}
	feed := atomFeed{
		XMLNS:   "http://www.w3.org/2005/Atom",
		Title:   r.Host,
		ID:      self,
		Updated: updated.Format(time.RFC3339),
		Links: []atomLink{
			{Href: self, Rel: "self"},
			{Href: fmt.Sprintf("gemini://%s:%s%s/", r.Host, cfg.Port, r.prefix())},
		},
	}
	for _, c := range changes {
		feed.Entries = append(feed.Entries, atomEntry{
			Title:   c.Name,
			ID:      feedGUID(r.Host, c),
			Updated: c.Time.Format(time.RFC3339),
			Links:   []atomLink{{Href: feedLink(cfg, r.Host, c)}},
			Author:  atomAuthor{Name: c.Code},
		})
	}
	body, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		logf(1, "atom: %v", err)
		return failf(StatusTemporaryFailure, "feed generation failed")
	}
	return &Response{
		Status: StatusSuccess,
		Meta:   mimeAtom,
		Body:   append([]byte(xml.Header), body...),
	}
}
