package server

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/phoebewiki/phoebe/wiki"
)

// how many change-log entries one /do/changes page shows
const changesPageSize = 30

// how many hits a search may return before it is cut off
const searchLimit = 100

// how many dated pages the main menu shows as a blog strip
const menuBlogSize = 10

var isoDated = regexp.MustCompile(`^\d\d\d\d-\d\d-\d\d`)

// prefix is the URL path prefix of the request's space.
func (r *Request) prefix() string {
	if r.Space == "" {
		return ""
	}
	return "/" + r.Space
}

func (r *Request) pageLink(name string) string {
	return r.prefix() + "/page/" + url.PathEscape(name)
}

func (r *Request) fileLink(name string) string {
	return r.prefix() + "/file/" + url.PathEscape(name)
}

// canonicalURL is the absolute Gemini URL of a path within the
// request's space.
func (r *Request) canonicalURL(cfg *Config, path string) string {
	return fmt.Sprintf("gemini://%s:%s%s%s", r.Host, cfg.Port, r.prefix(), path)
}

// query returns the decoded query string of the request, if any.
func (r *Request) query() string {
	q, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		return r.URL.RawQuery
	}
	return q
}

// geminiResponse routes a read request within its space.
func (s *Server) geminiResponse(cfg *Config, r *Request) *Response {
	seg := r.Segments
	if len(seg) == 1 && seg[0] == "" {
		seg = nil
	}
	if len(seg) == 0 {
		return s.mainMenu(cfg, r)
	}
	switch seg[0] {
	case "page":
		if len(seg) == 2 {
			return s.pageResponse(cfg, r, seg[1], 0)
		}
		if len(seg) == 3 {
			if rev, err := strconv.Atoi(seg[2]); err == nil && rev >= 1 {
				return s.pageResponse(cfg, r, seg[1], rev)
			}
		}
	case "raw":
		if len(seg) == 2 || len(seg) == 3 {
			return s.rawResponse(cfg, r, seg[1:])
		}
	case "html":
		if len(seg) == 2 || len(seg) == 3 {
			return s.htmlResponse(cfg, r, seg[1:])
		}
	case "history":
		if len(seg) == 2 {
			return s.historyResponse(cfg, r, seg[1])
		}
	case "diff":
		if len(seg) == 3 {
			if rev, err := strconv.Atoi(seg[2]); err == nil && rev >= 1 {
				return s.diffResponse(cfg, r, seg[1], rev)
			}
		}
	case "file":
		if len(seg) == 2 {
			return s.fileResponse(cfg, r, seg[1])
		}
	case "robots.txt":
		if len(seg) == 1 {
			return s.robotsResponse(cfg, r)
		}
	case "do":
		return s.doResponse(cfg, r, seg[1:])
	}
	return failf(StatusNotFound, "this resource does not exist")
}

// storeError maps a store failure to a response.
func storeError(err error) *Response {
	switch {
	case errors.Is(err, wiki.ErrNotFound), errors.Is(err, wiki.ErrBadName),
		errors.Is(err, wiki.ErrUnknownSpace):
		return failf(StatusNotFound, "this resource does not exist")
	default:
		logf(1, "store: %v", err)
		return failf(StatusTemporaryFailure, "the store failed us")
	}
}

func (s *Server) readPageOrRevision(cfg *Config, space string, seg []string) (*wiki.Page, *Response) {
	name := seg[0]
	if len(seg) == 2 {
		rev, err := strconv.Atoi(seg[1])
		if err != nil || rev < 1 {
			return nil, failf(StatusNotFound, "this resource does not exist")
		}
		p, err := cfg.Store.ReadPageRevision(space, name, rev)
		if err != nil {
			return nil, storeError(err)
		}
		return p, nil
	}
	p, err := cfg.Store.ReadPage(space, name)
	if err != nil {
		return nil, storeError(err)
	}
	return p, nil
}

// pageResponse serves a page as gemtext with its footer. rev 0 means
// the current revision.
func (s *Server) pageResponse(cfg *Config, r *Request, name string, rev int) *Response {
	var p *wiki.Page
	var err error
	historical := rev > 0
	if historical {
		p, err = cfg.Store.ReadPageRevision(r.Space, name, rev)
	} else {
		p, err = cfg.Store.ReadPage(r.Space, name)
	}
	if err != nil {
		return storeError(err)
	}
	if historical {
		cur, curErr := cfg.Store.ReadPage(r.Space, name)
		if curErr == nil && cur.Revision == rev {
			historical = false
		}
	}

	var b strings.Builder
	b.WriteString(p.Text)
	if !strings.HasSuffix(p.Text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if historical {
		fmt.Fprintf(&b, "=> %s Current revision\n", r.pageLink(name))
		fmt.Fprintf(&b, "=> %s/raw/%s/%d Raw text\n", r.prefix(), url.PathEscape(name), rev)
		fmt.Fprintf(&b, "=> %s/html/%s/%d HTML\n", r.prefix(), url.PathEscape(name), rev)
	} else {
		fmt.Fprintf(&b, "=> %s/history/%s History\n", r.prefix(), url.PathEscape(name))
		fmt.Fprintf(&b, "=> %s/raw/%s Raw text\n", r.prefix(), url.PathEscape(name))
		fmt.Fprintf(&b, "=> %s/html/%s HTML\n", r.prefix(), url.PathEscape(name))
		for _, f := range cfg.footers {
			if line := f(cfg, p); line != "" {
				b.WriteString(line)
				if !strings.HasSuffix(line, "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}
	return gmi(b.String())
}

func (s *Server) rawResponse(cfg *Config, r *Request, seg []string) *Response {
	p, errResp := s.readPageOrRevision(cfg, r.Space, seg)
	if errResp != nil {
		return errResp
	}
	return &Response{Status: StatusSuccess, Meta: mimePlain, Body: []byte(p.Text)}
}

func (s *Server) htmlResponse(cfg *Config, r *Request, seg []string) *Response {
	p, errResp := s.readPageOrRevision(cfg, r.Space, seg)
	if errResp != nil {
		return errResp
	}
	doc := renderHTMLDocument(cfg, r, p.Name, p.Text)
	return &Response{Status: StatusSuccess, Meta: mimeHTML, Body: []byte(doc)}
}

func (s *Server) historyResponse(cfg *Config, r *Request, name string) *Response {
	revs, err := cfg.Store.Revisions(r.Space, name)
	if err != nil {
		return storeError(err)
	}
	cur, curErr := cfg.Store.ReadPage(r.Space, name)
	if curErr != nil && len(revs) == 0 {
		return storeError(wiki.ErrNotFound)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# History of %s\n", name)
	if curErr == nil {
		fmt.Fprintf(&b, "=> %s Current (revision %d)\n", r.pageLink(name), cur.Revision)
	}
	for _, rev := range revs {
		fmt.Fprintf(&b, "=> %s/%d Revision %d\n", r.pageLink(name), rev, rev)
		if rev > 1 {
			fmt.Fprintf(&b, "=> %s/diff/%s/%d Diff to revision %d\n",
				r.prefix(), url.PathEscape(name), rev, rev-1)
		}
	}
	return gmi(b.String())
}

func (s *Server) diffResponse(cfg *Config, r *Request, name string, rev int) *Response {
	readText := func(rev int) (string, *Response) {
		p, err := cfg.Store.ReadPageRevision(r.Space, name, rev)
		if err != nil {
			if errors.Is(err, wiki.ErrNotFound) {
				// a deletion revision has no content
				return "", nil
			}
			return "", storeError(err)
		}
		return p.Text, nil
	}
	newText, errResp := readText(rev)
	if errResp != nil {
		return errResp
	}
	var oldText string
	if rev > 1 {
		oldText, errResp = readText(rev - 1)
		if errResp != nil {
			return errResp
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Differences for %s, revision %d\n", name, rev)
	d := Diff(oldText, newText)
	if d == "" {
		b.WriteString("No differences.\n")
	} else {
		b.WriteString("```\n")
		b.WriteString(d)
		b.WriteString("```\n")
	}
	return gmi(b.String())
}

func (s *Server) fileResponse(cfg *Config, r *Request, name string) *Response {
	data, mime, err := cfg.Store.ReadFile(r.Space, name)
	if err != nil {
		return storeError(err)
	}
	return &Response{Status: StatusSuccess, Meta: mime, Body: data}
}

// mainMenu builds the front page of a space.
func (s *Server) mainMenu(cfg *Config, r *Request) *Response {
	var b strings.Builder
	b.WriteString("Welcome to Phoebe!\n\n")
	if cfg.MainPage != "" {
		if p, err := cfg.Store.ReadPage(r.Space, cfg.MainPage); err == nil {
			b.WriteString(p.Text)
			if !strings.HasSuffix(p.Text, "\n") {
				b.WriteByte('\n')
			}
			b.WriteByte('\n')
		}
	}
	for _, name := range cfg.ExtraPages {
		fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
	}
	if blog := s.blogNames(cfg, r.Space, menuBlogSize); len(blog) > 0 {
		b.WriteString("\n## Blog\n")
		for _, name := range blog {
			fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
		}
		fmt.Fprintf(&b, "=> %s/do/blog More blog posts\n", r.prefix())
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "=> %s/do/index Index of all pages\n", r.prefix())
	fmt.Fprintf(&b, "=> %s/do/changes Changes\n", r.prefix())
	for _, m := range cfg.menus {
		for _, item := range m(cfg, r.Space) {
			u := item.URL
			if strings.HasPrefix(u, "/") {
				u = r.prefix() + u
			}
			fmt.Fprintf(&b, "=> %s %s\n", u, item.Label)
		}
	}
	return gmi(b.String())
}

// blogNames lists the ISO-dated pages of a space, newest first.
// limit <= 0 means all of them.
func (s *Server) blogNames(cfg *Config, space string, limit int) []string {
	names, err := cfg.Store.ListPages(space)
	if err != nil {
		logf(1, "listing pages: %v", err)
		return nil
	}
	var blog []string
	for _, n := range names {
		if isoDated.MatchString(n) {
			blog = append(blog, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(blog)))
	if limit > 0 && len(blog) > limit {
		blog = blog[:limit]
	}
	return blog
}

// doResponse routes the /do/ actions.
func (s *Server) doResponse(cfg *Config, r *Request, seg []string) *Response {
	switch seg[0] {
	case "index":
		if len(seg) == 1 {
			return s.indexResponse(cfg, r)
		}
	case "match":
		if len(seg) == 1 {
			return s.matchResponse(cfg, r)
		}
	case "search":
		if len(seg) == 1 {
			return s.searchResponse(cfg, r)
		}
	case "changes":
		if len(seg) == 1 {
			return s.changesResponse(cfg, r, []string{r.Space}, 0)
		}
	case "more":
		if len(seg) == 2 {
			if n, err := strconv.Atoi(seg[1]); err == nil && n >= 0 {
				return s.changesResponse(cfg, r, []string{r.Space}, n)
			}
		}
	case "rss":
		if len(seg) == 1 {
			return s.rssResponse(cfg, r, []string{r.Space})
		}
	case "atom":
		if len(seg) == 1 {
			return s.atomResponse(cfg, r, []string{r.Space})
		}
	case "all":
		if len(seg) == 2 {
			switch seg[1] {
			case "atom":
				return s.atomResponse(cfg, r, s.hostSpaces(cfg, r))
			case "changes":
				return s.changesResponse(cfg, r, s.hostSpaces(cfg, r), 0)
			}
		}
	case "blog":
		if len(seg) == 1 {
			return s.blogResponse(cfg, r)
		}
	case "new":
		if len(seg) == 1 {
			return s.newPageResponse(cfg, r)
		}
	}
	return failf(StatusNotFound, "this resource does not exist")
}

// hostSpaces lists every space of the request's host, the root space
// included.
func (s *Server) hostSpaces(cfg *Config, r *Request) []string {
	return append([]string{""}, cfg.SpacesFor(r.Host)...)
}

func (s *Server) indexResponse(cfg *Config, r *Request) *Response {
	names, err := cfg.Store.ListPages(r.Space)
	if err != nil {
		return storeError(err)
	}
	var b strings.Builder
	b.WriteString("# All pages\n")
	if len(names) == 0 {
		b.WriteString("The wiki is empty.\n")
	}
	for _, name := range names {
		fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
	}
	return gmi(b.String())
}

func (s *Server) matchResponse(cfg *Config, r *Request) *Response {
	q := r.query()
	if q == "" {
		return failf(StatusInput, "Search page titles for")
	}
	names, err := cfg.Store.ListPages(r.Space)
	if err != nil {
		return storeError(err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Page titles matching %s\n", q)
	found := 0
	lower := strings.ToLower(q)
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), lower) {
			fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
			found++
		}
	}
	if found == 0 {
		b.WriteString("No page matches.\n")
	}
	return gmi(b.String())
}

func (s *Server) searchResponse(cfg *Config, r *Request) *Response {
	q := r.query()
	if q == "" {
		return failf(StatusInput, "Search page content for")
	}
	names, err := cfg.Store.ListPages(r.Space)
	if err != nil {
		return storeError(err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Pages containing %s\n", q)
	found := 0
	truncated := false
	lower := strings.ToLower(q)
	for _, name := range names {
		p, err := cfg.Store.ReadPage(r.Space, name)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(p.Text), lower) &&
			!strings.Contains(strings.ToLower(name), lower) {
			continue
		}
		if found == searchLimit {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
		found++
	}
	if found == 0 {
		b.WriteString("No page matches.\n")
	}
	if truncated {
		fmt.Fprintf(&b, "The list was cut off after %d hits.\n", searchLimit)
	}
	return gmi(b.String())
}

func (s *Server) blogResponse(cfg *Config, r *Request) *Response {
	var b strings.Builder
	b.WriteString("# Blog posts\n")
	blog := s.blogNames(cfg, r.Space, 0)
	if len(blog) == 0 {
		b.WriteString("There are no blog posts.\n")
	}
	for _, name := range blog {
		fmt.Fprintf(&b, "=> %s %s\n", r.pageLink(name), name)
	}
	return gmi(b.String())
}

func (s *Server) newPageResponse(cfg *Config, r *Request) *Response {
	name := r.query()
	if name == "" {
		return failf(StatusInput, "Name of the new page")
	}
	return failf(StatusRedirect, r.canonicalURL(cfg, "/page/"+url.PathEscape(name)))
}

// collectChanges merges the change logs of the given spaces, newest
// first. It reads one extra record to learn whether more are left.
func (s *Server) collectChanges(cfg *Config, spaces []string, offset, limit int) ([]wiki.Change, bool, error) {
	var all []wiki.Change
	for _, space := range spaces {
		cs, err := cfg.Store.Changes(space, 0, offset+limit+1)
		if err != nil {
			return nil, false, err
		}
		all = append(all, cs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.After(all[j].Time) })
	if offset >= len(all) {
		return nil, false, nil
	}
	all = all[offset:]
	more := len(all) > limit
	if more {
		all = all[:limit]
	}
	return all, more, nil
}

func (s *Server) changesResponse(cfg *Config, r *Request, spaces []string, offset int) *Response {
	changes, more, err := s.collectChanges(cfg, spaces, offset, changesPageSize)
	if err != nil {
		return storeError(err)
	}
	var b strings.Builder
	b.WriteString("# Changes\n")
	if len(changes) == 0 {
		b.WriteString("There are no changes yet.\n")
	}
	day := ""
	for _, c := range changes {
		if d := c.Time.Format("2006-01-02"); d != day {
			day = d
			fmt.Fprintf(&b, "## %s\n", day)
		}
		prefix := ""
		if c.Space != "" {
			prefix = "/" + c.Space
		}
		if c.IsFile() {
			fmt.Fprintf(&b, "=> %s/file/%s %s (file) by %s\n",
				prefix, url.PathEscape(c.Name), c.Name, c.Code)
		} else {
			fmt.Fprintf(&b, "=> %s/page/%s %s (revision %d) by %s\n",
				prefix, url.PathEscape(c.Name), c.Name, c.Revision, c.Code)
		}
	}
	if more && len(spaces) == 1 {
		fmt.Fprintf(&b, "\n=> %s/do/more/%d More changes\n", r.prefix(), offset+changesPageSize)
	}
	return gmi(b.String())
}
