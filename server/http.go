package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/phoebewiki/phoebe/gemtext"
)

// The HTTP surface is a read-only mirror of the Gemini routes, plus
// the stylesheet. It shares the single TLS listener: the dispatcher
// hands the connection over once the first line looks like HTTP.

type ctxKey int

const requestKey ctxKey = 0

type httpContext struct {
	cfg *Config
	r   *Request
}

// handleHTTP reconstructs a net/http request from the already-consumed
// first line and serves it on the raw connection.
func (s *Server) handleHTTP(cfg *Config, conn net.Conn, br *bufio.Reader, line string) {
	req, err := http.ReadRequest(bufio.NewReader(
		io.MultiReader(strings.NewReader(line+"\r\n"), br)))
	if err != nil {
		logf(3, "unreadable http request from %s: %v", conn.RemoteAddr(), err)
		return
	}
	w := &connResponseWriter{conn: conn, req: req, header: make(http.Header)}
	s.serveHTTP(cfg, w, req, conn)
	w.finish()
}

func (s *Server) serveHTTP(cfg *Config, w http.ResponseWriter, req *http.Request, conn net.Conn) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "only GET and HEAD are served here", http.StatusMethodNotAllowed)
		return
	}
	hostURL := *req.URL
	hostURL.Host = req.Host
	host, ok := cfg.resolveHost(&hostURL)
	if !ok {
		http.Error(w, "host not served here", http.StatusNotFound)
		return
	}
	segments, err := pathSegments(req.URL.EscapedPath())
	if err != nil {
		http.Error(w, "malformed path", http.StatusBadRequest)
		return
	}
	space, rest := cfg.resolveSpace(host, segments)
	r := &Request{
		Proto:       "http",
		URL:         req.URL,
		Host:        host,
		Space:       space,
		Segments:    rest,
		RemoteAddr:  remoteHost(conn),
		Fingerprint: peerFingerprint(conn),
	}
	for _, h := range cfg.handlers {
		if resp := h(cfg, r); resp != nil {
			s.writeMirrored(cfg, w, r, resp)
			return
		}
	}
	stripped := "/" + strings.Join(rest, "/")
	req = req.WithContext(context.WithValue(req.Context(), requestKey, httpContext{cfg, r}))
	req.URL.Path = stripped
	s.httpRouter().ServeHTTP(w, req)
}

// httpRouter builds the read-only route table. The handlers pull their
// configuration out of the request context, so the router itself can
// be shared across reloads.
func (s *Server) httpRouter() http.Handler {
	s.routerOnce.Do(func() {
		var routes = []struct {
			route   string
			handler httprouter.Handle
		}{
			{"/", s.mirrorHandler},
			{"/page/:name", s.mirrorHandler},
			{"/page/:name/:rev", s.mirrorHandler},
			{"/raw/:name", s.mirrorHandler},
			{"/raw/:name/:rev", s.mirrorHandler},
			{"/html/:name", s.mirrorHandler},
			{"/html/:name/:rev", s.mirrorHandler},
			{"/history/:name", s.mirrorHandler},
			{"/diff/:name/:rev", s.mirrorHandler},
			{"/file/:name", s.mirrorHandler},
			{"/do/index", s.mirrorHandler},
			{"/do/match", s.mirrorHandler},
			{"/do/search", s.mirrorHandler},
			{"/do/changes", s.mirrorHandler},
			{"/do/more/:n", s.mirrorHandler},
			{"/do/blog", s.mirrorHandler},
			{"/do/rss", s.mirrorHandler},
			{"/do/atom", s.mirrorHandler},
			{"/do/all/atom", s.mirrorHandler},
			{"/do/all/changes", s.mirrorHandler},
			{"/robots.txt", s.mirrorHandler},
			{"/default.css", s.cssHandler},
			{"/favicon.ico", s.faviconHandler},
		}
		r := httprouter.New()
		for _, route := range routes {
			r.Handle(http.MethodGet, route.route, route.handler)
			r.Handle(http.MethodHead, route.route, route.handler)
		}
		s.router = r
	})
	return s.router
}

// mirrorHandler funnels a read-only HTTP request through the Gemini
// routing and translates the response.
func (s *Server) mirrorHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	hc := req.Context().Value(requestKey).(httpContext)
	s.writeMirrored(hc.cfg, w, hc.r, s.geminiResponse(hc.cfg, hc.r))
}

// writeMirrored maps a Gemini response onto HTTP. A gemtext body is
// rendered to HTML on the way out; everything else passes through.
func (s *Server) writeMirrored(cfg *Config, w http.ResponseWriter, r *Request, resp *Response) {
	switch resp.Status {
	case StatusSuccess:
		ct := resp.Meta
		body := resp.Body
		if strings.HasPrefix(ct, "text/gemini") {
			title := r.Host
			if len(r.Segments) > 0 && r.Segments[len(r.Segments)-1] != "" {
				title = r.Segments[len(r.Segments)-1]
			}
			body = []byte(renderHTMLDocument(cfg, r, title, string(resp.Body)))
			ct = mimeHTML
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	case StatusInput, StatusBadRequest:
		http.Error(w, resp.Meta, http.StatusBadRequest)
	case StatusRedirect:
		w.Header().Set("Location", resp.Meta)
		w.WriteHeader(http.StatusFound)
	case StatusNotFound, StatusProxyRequestRefused:
		http.Error(w, resp.Meta, http.StatusNotFound)
	default:
		http.Error(w, resp.Meta, http.StatusInternalServerError)
	}
}

func (s *Server) cssHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	hc := req.Context().Value(requestKey).(httpContext)
	w.Header().Set("Content-Type", "text/css; charset=UTF-8")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, hc.cfg.CSS())
}

func (s *Server) faviconHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	// extensions get the request before routing; none claimed it
	http.Error(w, "no favicon", http.StatusNotFound)
}

// connResponseWriter adapts the raw TLS connection to the
// http.ResponseWriter contract. The body is buffered so the
// Content-Length header can be exact.
type connResponseWriter struct {
	conn   net.Conn
	req    *http.Request
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *connResponseWriter) Header() http.Header {
	return w.header
}

func (w *connResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *connResponseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

func (w *connResponseWriter) finish() {
	w.WriteHeader(http.StatusOK)
	w.header.Set("Content-Length", strconv.Itoa(w.body.Len()))
	w.header.Set("Connection", "close")
	fmt.Fprintf(w.conn, "%s %d %s\r\n", w.req.Proto, w.status, http.StatusText(w.status))
	w.header.Write(w.conn)
	io.WriteString(w.conn, "\r\n")
	if w.req.Method != http.MethodHead {
		w.conn.Write(w.body.Bytes())
	}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<title>{{ .Title }}</title>
<link rel="stylesheet" href="/default.css"/>
</head>
<body>
{{ .Body }}
</body>
</html>
`))

// renderHTMLDocument wraps rendered gemtext in the HTML page shell.
// Wiki-relative link targets resolve to /page/ within the request's
// space.
func renderHTMLDocument(cfg *Config, r *Request, title, src string) string {
	resolve := func(target string) string {
		if strings.Contains(target, "://") || strings.HasPrefix(target, "/") {
			return target
		}
		return r.prefix() + "/page/" + target
	}
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(gemtext.HTML(src, resolve))})
	if err != nil {
		logf(1, "rendering html: %v", err)
	}
	return buf.String()
}

// defaultCSS is served at /default.css unless an extension replaces
// it.
const defaultCSS = `html { max-width: 70ch; padding: 2ch; margin: auto; }
body { font-family: serif; line-height: 1.5; }
pre { overflow: auto; background: #eee; padding: 1ch; }
blockquote { font-style: italic; border-left: 3px solid #ccc; padding-left: 1ch; margin-left: 0; }
a { text-decoration: none; }
`
