package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/phoebewiki/phoebe/wiki"
)

// handleTitan validates and commits one upload. The body follows the
// request line immediately and is exactly the declared size.
func (s *Server) handleTitan(cfg *Config, conn net.Conn, br *bufio.Reader, line string) {
	r, errResp := s.parseRequest(cfg, conn, line, "titan")
	if errResp != nil {
		writeResponse(conn, errResp)
		return
	}
	for _, h := range cfg.handlers {
		if resp := h(cfg, r); resp != nil {
			writeResponse(conn, resp)
			return
		}
	}
	writeResponse(conn, s.titanCommit(cfg, r, br, conn))
}

func (s *Server) titanCommit(cfg *Config, r *Request, br *bufio.Reader, conn net.Conn) *Response {
	// a path names a page unless it goes through file/
	var name string
	isFile := false
	seg := r.Segments
	switch {
	case len(seg) == 1 && seg[0] != "":
		name = seg[0]
	case len(seg) == 2 && (seg[0] == "raw" || seg[0] == "page"):
		name = seg[1]
	case len(seg) == 2 && seg[0] == "file":
		name = seg[1]
		isFile = true
	default:
		return failf(StatusBadRequest, "cannot write there")
	}
	if !wiki.ValidName(name) {
		return failf(StatusBadRequest, "bad name")
	}

	p := r.Titan
	mime := p.MIME
	if mime == "" {
		mime = "text/plain"
	}
	if !isFile && mime != "text/plain" {
		return failf(StatusBadRequest, "This wiki does not allow "+mime)
	}
	// the size limit is a page limit; files are bounded by the MIME
	// allow list instead
	if !isFile && p.Size > cfg.PageLimit {
		return failf(StatusBadRequest,
			fmt.Sprintf("This wiki does not allow more than %d bytes per page", cfg.PageLimit))
	}
	if isFile && !mimeAllowed(cfg, mime) {
		return failf(StatusBadRequest, "This wiki does not allow "+mime)
	}
	if !cfg.Authorize(r.Space, p.Token, r.Fingerprint) {
		return failf(StatusBadRequest, "Your token is the wrong token")
	}

	// read exactly the declared size; trailing bytes, if any, are not
	// interpreted
	conn.SetDeadline(time.Now().Add(uploadTimeout))
	body := make([]byte, p.Size)
	if _, err := io.ReadFull(br, body); err != nil {
		logf(3, "short titan upload from %s: %v", r.RemoteAddr, err)
		return failf(StatusBadRequest, "upload ended early")
	}

	code := wiki.Code(r.RemoteAddr)
	if isFile {
		if err := cfg.Store.WriteFile(r.Space, name, body, mime, code); err != nil {
			return storeError(err)
		}
		logf(2, "file %s/%s written by %s", r.Space, name, code)
		return failf(StatusRedirect, r.canonicalURL(cfg, "/file/"+url.PathEscape(name)))
	}
	rev, err := cfg.Store.WritePage(r.Space, name, string(body), code)
	if err != nil {
		return storeError(err)
	}
	logf(2, "page %s/%s revision %d written by %s", r.Space, name, rev, code)
	return failf(StatusRedirect, r.canonicalURL(cfg, "/page/"+url.PathEscape(name)))
}

// mimeAllowed checks an upload type against the configured allow list.
// A configured bare type such as "image" admits every subtype of that
// major type; a full type matches exactly.
func mimeAllowed(cfg *Config, mime string) bool {
	for _, allowed := range cfg.MIMETypes {
		if allowed == mime {
			return true
		}
		if !strings.Contains(allowed, "/") {
			if major, _, ok := strings.Cut(mime, "/"); ok && major == allowed {
				return true
			}
		}
	}
	return false
}
