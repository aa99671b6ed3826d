package server

import (
	"crypto/tls"
	"io"
	"strings"
	"testing"
)

// startServer runs a full server on a loopback TLS listener and
// returns its address.
func startServer(t *testing.T, cfg *Config) string {
	t.Helper()
	cert, err := LoadOrCreateCert(t.TempDir(), "localhost")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Default = cert
	s := New(cfg)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", s.tlsConfig())
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(ln)
	t.Cleanup(s.Stop)
	return ln.Addr().String()
}

// raw sends request bytes over TLS and returns everything the server
// answers before closing.
func raw(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatal(err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	return string(reply)
}

func TestServeGeminiMenu(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr, "gemini://localhost/\r\n")
	if !strings.HasPrefix(reply, "20 text/gemini; charset=UTF-8\r\nWelcome to Phoebe!") {
		t.Errorf("menu reply starts %q", reply[:min(len(reply), 60)])
	}
}

func TestServeTitanThenGemini(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	body := "Welcome to the wiki!\nPlease be kind."
	reply := raw(t, addr,
		"titan://localhost/raw/Welcome;mime=text/plain;size=36;token=hello\r\n"+body)
	if !strings.HasPrefix(reply, "30 gemini://localhost:1965/page/Welcome\r\n") {
		t.Fatalf("titan reply %q", reply)
	}
	reply = raw(t, addr, "gemini://localhost/page/Welcome\r\n")
	if !strings.Contains(reply, body) {
		t.Errorf("page reply misses the uploaded text:\n%s", reply)
	}
}

func TestServeTitanWrongToken(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr,
		"titan://localhost/raw/Welcome;mime=text/plain;size=4;token=wrong\r\ntext")
	if !strings.HasPrefix(reply, "59 ") || !strings.Contains(reply, "token") {
		t.Errorf("wrong token reply %q", reply)
	}
	reply = raw(t, addr, "gemini://localhost/page/Welcome\r\n")
	if !strings.HasPrefix(reply, "51 ") {
		t.Errorf("store changed by rejected write: %q", reply)
	}
}

func TestServeOversizedRequestLine(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr, "gemini://localhost/"+strings.Repeat("a", 2000)+"\r\n")
	if !strings.HasPrefix(reply, "59 ") {
		t.Errorf("oversized line reply %q", reply)
	}
}

func TestServeUnknownHost(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr, "gemini://elsewhere.example.org/\r\n")
	if !strings.HasPrefix(reply, "53 ") {
		t.Errorf("unknown host reply %q", reply)
	}
}

func TestServeUnknownScheme(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr, "gopher://localhost/\r\n")
	if !strings.HasPrefix(reply, "59 ") {
		t.Errorf("unknown scheme reply %q", reply)
	}
}

func TestServeHTTP(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	if _, err := cfg.Store.WritePage("", "Welcome", "# Hi\n", "0000"); err != nil {
		t.Fatal(err)
	}

	reply := raw(t, addr, "GET /page/Welcome HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.HasPrefix(reply, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("http reply starts %q", reply[:min(len(reply), 40)])
	}
	if !strings.Contains(reply, "Content-Type: text/html; charset=UTF-8") {
		t.Errorf("content type missing:\n%s", reply)
	}
	if !strings.Contains(reply, "<h1>Hi</h1>") {
		t.Errorf("page not rendered:\n%s", reply)
	}

	reply = raw(t, addr, "GET /default.css HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.Contains(reply, "Cache-Control: public, max-age=86400, immutable") {
		t.Errorf("css cache header missing:\n%s", reply)
	}

	reply = raw(t, addr, "HEAD /page/Welcome HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if strings.Contains(reply, "<h1>") {
		t.Errorf("HEAD reply carries a body:\n%s", reply)
	}
	if !strings.Contains(reply, "Content-Length: ") {
		t.Errorf("HEAD reply misses Content-Length:\n%s", reply)
	}

	reply = raw(t, addr, "GET /raw/Welcome HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.Contains(reply, "Content-Type: text/plain; charset=UTF-8") {
		t.Errorf("raw content type:\n%s", reply)
	}

	reply = raw(t, addr, "GET /page/Missing HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.HasPrefix(reply, "HTTP/1.1 404 ") {
		t.Errorf("missing page reply %q", reply[:min(len(reply), 40)])
	}
}

func TestServeHTTPMethodNotAllowed(t *testing.T) {
	cfg := newTestConfig(t)
	addr := startServer(t, cfg)
	reply := raw(t, addr, "POST / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if !strings.HasPrefix(reply, "HTTP/1.1 405 ") {
		t.Errorf("POST reply %q", reply)
	}
	if !strings.Contains(reply, "Allow: GET, HEAD") {
		t.Errorf("405 reply misses Allow header:\n%s", reply)
	}
}
