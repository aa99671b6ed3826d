package server

import (
	"bufio"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

// A Request is one parsed request taken off the shared listener.
type Request struct {
	Proto       string // "gemini", "titan" or "http"
	URL         *url.URL
	Host        string   // the resolved authority
	Space       string   // resolved space, "" for the root space
	Segments    []string // decoded path segments after the space
	RemoteAddr  string   // client address, host part only
	Fingerprint string   // SHA-256 of the client certificate, hex
	Titan       *TitanParams
}

// TitanParams are the semicolon parameters of a Titan request line.
type TitanParams struct {
	MIME  string
	Size  int
	Token string
}

// The request line is capped at 1024 bytes before the CRLF.
const maxRequestLine = 1024

var (
	httpRequestLine = regexp.MustCompile(`^(GET|HEAD) \S+ HTTP/1\.[01]$`)

	// other HTTP methods are recognized so they can be answered with
	// 405 instead of a Gemini status
	httpOtherMethod = regexp.MustCompile(`^[A-Z]+ \S+ HTTP/1\.[01]$`)

	errLineTooLong = errors.New("request line too long")
	errLineSyntax  = errors.New("malformed request line")
)

// readRequestLine reads one CRLF-terminated UTF-8 line off the
// connection, enforcing the length cap while reading so an oversized
// line cannot make the server buffer it whole.
func readRequestLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", errors.Wrap(err, "reading request line")
		}
		buf = append(buf, b)
		if b == '\n' {
			break
		}
		if len(buf) > maxRequestLine+1 {
			return "", errLineTooLong
		}
	}
	line := string(buf)
	if !strings.HasSuffix(line, "\r\n") {
		return "", errLineSyntax
	}
	line = line[:len(line)-2]
	if len(line) > maxRequestLine || !utf8.ValidString(line) {
		return "", errLineSyntax
	}
	return line, nil
}

// normalizeHost lowercases a host name and folds Unicode spellings to
// their punycode form so both reach the same declared host.
func normalizeHost(h string) string {
	h = strings.ToLower(h)
	if a, err := idna.Lookup.ToASCII(h); err == nil {
		h = a
	}
	return h
}

// resolveHost matches the URL authority against the declared hosts.
func (c *Config) resolveHost(u *url.URL) (string, bool) {
	want := normalizeHost(u.Hostname())
	for _, h := range c.Hosts {
		if normalizeHost(h) == want {
			return h, true
		}
	}
	return "", false
}

// pathSegments splits a URL path and percent-decodes each segment
// exactly once.
func pathSegments(escaped string) ([]string, error) {
	p := strings.TrimPrefix(escaped, "/")
	if p == "" {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, len(parts))
	for i, part := range parts {
		dec, err := url.PathUnescape(part)
		if err != nil {
			return nil, errors.Wrap(err, "decoding path segment")
		}
		out[i] = dec
	}
	return out, nil
}

// resolveSpace peels the space off the decoded segments when the first
// segment names a space declared for the host.
func (c *Config) resolveSpace(host string, segments []string) (string, []string) {
	if len(segments) == 0 {
		return "", segments
	}
	for _, sp := range c.SpacesFor(host) {
		if segments[0] == sp {
			return sp, segments[1:]
		}
	}
	return "", segments
}

// parseTitanPath splits the Titan parameters off an escaped URL path.
// The size parameter is mandatory; mime and token default to empty.
// Parameters may come in any order.
func parseTitanPath(escaped string) (string, *TitanParams, error) {
	parts := strings.Split(escaped, ";")
	p := &TitanParams{Size: -1}
	for _, kv := range parts[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return "", nil, errors.Errorf("malformed titan parameter %q", kv)
		}
		dec, err := url.PathUnescape(v)
		if err != nil {
			return "", nil, errors.Wrap(err, "decoding titan parameter")
		}
		switch k {
		case "mime":
			p.MIME = dec
		case "size":
			n, err := strconv.Atoi(dec)
			if err != nil || n < 0 {
				return "", nil, errors.Errorf("bad titan size %q", dec)
			}
			p.Size = n
		case "token":
			p.Token = dec
		}
	}
	if p.Size < 0 {
		return "", nil, errors.New("titan request without a size")
	}
	return parts[0], p, nil
}
