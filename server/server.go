package server

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// Server is the multi-protocol wiki server. A single TLS listener per
// port speaks Gemini (read), Titan (write) and HTTP (read-only view),
// telling them apart by the first request line. Build a Config, pass
// it to New, and call ListenAndServe. Reload swaps the configuration;
// connections already in flight finish against the old one.
type Server struct {
	conf atomic.Value // *Config

	mu        sync.Mutex
	listeners []net.Listener
	closing   bool

	handlers sync.WaitGroup

	// gate bounds the number of connections handled at once; excess
	// accepts wait their turn
	gate chan struct{}

	routerOnce sync.Once
	router     http.Handler
}

// maxConnections is the number of simultaneously handled connections.
const maxConnections = 256

const (
	// how long a client gets to deliver its request line
	requestTimeout = 30 * time.Second
	// how long a Titan client gets to deliver its declared body
	uploadTimeout = 60 * time.Second
	// grace given to in-flight handlers on shutdown
	drainTimeout = 5 * time.Second
)

// New creates a server running against cfg.
func New(cfg *Config) *Server {
	s := &Server{gate: make(chan struct{}, maxConnections)}
	s.conf.Store(cfg)
	SetLogLevel(cfg.LogLevel)
	return s
}

// Config returns the current configuration snapshot.
func (s *Server) Config() *Config {
	return s.conf.Load().(*Config)
}

// Reload installs a new configuration. In-flight connections keep the
// snapshot they started with.
func (s *Server) Reload(cfg *Config) {
	s.conf.Store(cfg)
	SetLogLevel(cfg.LogLevel)
	logf(1, "configuration reloaded")
}

// tlsConfig serves the certificate matching the SNI server name,
// falling back to the default certificate. Client certificates are
// requested but never required; they only matter to the fingerprint
// whitelist.
func (s *Server) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequestClientCert,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cfg := s.Config()
			if cert := cfg.Certs[normalizeHost(hello.ServerName)]; cert != nil {
				return cert, nil
			}
			if cfg.Default != nil {
				return cfg.Default, nil
			}
			return nil, errors.New("no certificate configured")
		},
	}
}

// ListenAndServe binds every configured port and serves until Stop is
// called.
func (s *Server) ListenAndServe() error {
	cfg := s.Config()
	logf(1, "starting %s on port(s) %s", cfg.ServerName, strings.Join(cfg.Ports, ", "))
	var lns []net.Listener
	for _, port := range cfg.Ports {
		ln, err := tls.Listen("tcp", ":"+port, s.tlsConfig())
		if err != nil {
			return errors.Wrapf(err, "listening on port %s", port)
		}
		lns = append(lns, ln)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, lns...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ln := range lns {
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			s.serve(ln)
		}(ln)
	}
	wg.Wait()
	return nil
}

// Serve accepts connections from ln until the listener closes. It is
// exported so tests and callers with their own listener can drive the
// server directly.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	s.serve(ln)
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			logf(1, "accept: %v", err)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		s.gate <- struct{}{}
		s.handlers.Add(1)
		go func() {
			defer func() {
				<-s.gate
				s.handlers.Done()
			}()
			s.handle(conn)
		}()
	}
}

// Stop closes the listening sockets and gives in-flight handlers a
// short grace period before returning.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closing = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		logf(1, "shutdown drain timed out")
	}
}

// handle reads one request off a fresh connection and dispatches it by
// protocol.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			err := errors.Errorf("panic in connection handler: %v", p)
			logf(1, "%v", err)
			raven.CaptureError(err, nil)
		}
	}()

	conn.SetDeadline(time.Now().Add(requestTimeout))
	br := bufio.NewReader(conn)
	line, err := readRequestLine(br)
	if err != nil {
		logf(3, "unreadable request from %s: %v", conn.RemoteAddr(), err)
		writeResponse(conn, failf(StatusBadRequest, "bad request"))
		return
	}
	cfg := s.Config()
	logf(3, "request %q from %s", line, conn.RemoteAddr())

	switch {
	case strings.HasPrefix(line, "gemini://"):
		s.handleGemini(cfg, conn, line)
	case strings.HasPrefix(line, "titan://"):
		s.handleTitan(cfg, conn, br, line)
	case httpRequestLine.MatchString(line), httpOtherMethod.MatchString(line):
		s.handleHTTP(cfg, conn, br, line)
	default:
		writeResponse(conn, failf(StatusBadRequest, "unrecognized protocol"))
	}
}

func (s *Server) handleGemini(cfg *Config, conn net.Conn, line string) {
	r, errResp := s.parseRequest(cfg, conn, line, "gemini")
	if errResp != nil {
		writeResponse(conn, errResp)
		return
	}
	writeResponse(conn, s.dispatch(cfg, r))
}

// parseRequest resolves authority and space for a Gemini or Titan
// request line.
func (s *Server) parseRequest(cfg *Config, conn net.Conn, line, proto string) (*Request, *Response) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, failf(StatusBadRequest, "unparseable URL")
	}
	host, ok := cfg.resolveHost(u)
	if !ok {
		return nil, failf(StatusProxyRequestRefused, "host not served here")
	}
	escaped := u.EscapedPath()
	var titan *TitanParams
	if proto == "titan" {
		escaped, titan, err = parseTitanPath(escaped)
		if err != nil {
			logf(4, "titan parameters: %v", err)
			return nil, failf(StatusBadRequest, "malformed titan parameters")
		}
	}
	segments, err := pathSegments(escaped)
	if err != nil {
		return nil, failf(StatusBadRequest, "malformed path")
	}
	space, rest := cfg.resolveSpace(host, segments)
	return &Request{
		Proto:       proto,
		URL:         u,
		Host:        host,
		Space:       space,
		Segments:    rest,
		RemoteAddr:  remoteHost(conn),
		Fingerprint: peerFingerprint(conn),
		Titan:       titan,
	}, nil
}

// dispatch offers the request to the registered extensions, then to
// the built-in Gemini routes.
func (s *Server) dispatch(cfg *Config, r *Request) *Response {
	for _, h := range cfg.handlers {
		if resp := h(cfg, r); resp != nil {
			return resp
		}
	}
	return s.geminiResponse(cfg, r)
}

// writeResponse sends one Gemini-framed response. Only success
// responses carry a body.
func writeResponse(conn net.Conn, resp *Response) {
	fmt.Fprintf(conn, "%d %s\r\n", resp.Status, resp.Meta)
	if resp.Status >= 20 && resp.Status < 30 && resp.Body != nil {
		conn.Write(resp.Body)
	}
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// peerFingerprint hashes the client certificate, when one was sent.
func peerFingerprint(conn net.Conn) string {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	state := tc.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	return hex.EncodeToString(sum[:])
}
