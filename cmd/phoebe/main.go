// Command phoebe runs a wiki served over Gemini and Titan, with a
// read-only HTTPS view, all on the same TLS listener.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/facebookgo/clock"
	"golang.org/x/sys/unix"

	"github.com/phoebewiki/phoebe/server"
	"github.com/phoebewiki/phoebe/wiki"
)

const serverName = "phoebe/1.0"

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ", ")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var (
	hosts     stringList
	ports     stringList
	certFiles stringList
	keyFiles  stringList
	spaces    stringList
	tokens    stringList
	pages     stringList
	mimeTypes stringList

	wikiDir   = flag.String("wiki_dir", "", "wiki data directory (default ./wiki or $PHOEBE_DATA_DIR)")
	mainPage  = flag.String("wiki_main_page", "", "page transcluded at the top of the main menu")
	pageLimit = flag.Int("wiki_page_size_limit", 10000, "maximum page upload size in bytes (file uploads are not limited by it)")
	logLevel  = flag.Int("log_level", 1, "log verbosity, 0 (quiet) to 4 (trace)")
	setsid    = flag.Bool("setsid", false, "start a new session")
	pidFile   = flag.String("pid_file", "", "write the process id to this file")
	logFile   = flag.String("log_file", "", "append the log to this file")
	userName  = flag.String("user", "", "switch to this user at startup, before the ports are bound")
	groupName = flag.String("group", "", "switch to this group at startup, before the ports are bound")
)

func init() {
	flag.Var(&hosts, "host", "hostname to serve (repeatable, default localhost)")
	flag.Var(&ports, "port", "port to listen on (repeatable, default 1965)")
	flag.Var(&certFiles, "cert_file", "certificate for the preceding --host (repeatable)")
	flag.Var(&keyFiles, "key_file", "key for the preceding --host (repeatable)")
	flag.Var(&spaces, "wiki_space", "wiki space, optionally host/space (repeatable)")
	flag.Var(&tokens, "wiki_token", "write token (repeatable, default hello)")
	flag.Var(&pages, "wiki_page", "extra page linked from the main menu (repeatable)")
	flag.Var(&mimeTypes, "wiki_mime_type", "MIME type allowed for file uploads; a bare type like image matches all its subtypes (repeatable)")
}

func main() {
	flag.Parse() // exits 2 on bad flags
	if err := run(); err != nil {
		log.Fatal(err) // exit 1
	}
}

func run() error {
	if err := daemonize(); err != nil {
		return err
	}

	dir := *wikiDir
	if dir == "" {
		dir = os.Getenv("PHOEBE_DATA_DIR")
	}
	if dir == "" {
		dir = "./wiki"
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	cfg, err := buildConfig(dir)
	if err != nil {
		return err
	}
	srv := server.New(cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range sig {
			if s == syscall.SIGHUP {
				reopenLog()
				cfg, err := buildConfig(dir)
				if err != nil {
					log.Println("reload failed, keeping old configuration:", err)
					continue
				}
				srv.Reload(cfg)
				continue
			}
			srv.Stop()
			return
		}
	}()

	return srv.ListenAndServe()
}

// buildConfig assembles the configuration from flags, the wiki's
// config file, and the certificates on disk. It runs at startup and
// again on every hangup.
func buildConfig(dir string) (*server.Config, error) {
	b := server.NewConfigBuilder()
	b.ServerName = serverName
	b.WikiDir = dir
	b.LogLevel = *logLevel
	b.PageLimit = *pageLimit
	b.MainPage = *mainPage

	b.Hosts = hosts
	if len(b.Hosts) == 0 {
		b.Hosts = []string{"localhost"}
	}
	if len(ports) > 0 {
		b.Ports = ports
		b.Port = ports[0]
	}
	for _, sp := range spaces {
		if host, name, ok := strings.Cut(sp, "/"); ok {
			b.AddSpace(host, name)
		} else {
			b.AddSpace("", sp)
		}
	}
	for _, t := range tokens {
		b.AddToken(t)
	}
	for _, p := range pages {
		b.AddExtraPage(p)
	}
	for _, m := range mimeTypes {
		b.AddMIMEType(m)
	}
	if err := b.LoadFile(); err != nil {
		return nil, err
	}

	// certificates: explicit pairs bind to hosts in order; hosts
	// beyond the given pairs get a generated certificate
	for i, host := range b.Hosts {
		var cert *tls.Certificate
		var err error
		if i < len(certFiles) && i < len(keyFiles) {
			c, e := tls.LoadX509KeyPair(certFiles[i], keyFiles[i])
			cert, err = &c, e
		} else {
			cert, err = server.LoadOrCreateCert(dir, host)
		}
		if err != nil {
			return nil, err
		}
		b.Certs[host] = cert
		if b.Default == nil {
			b.Default = cert
		}
	}

	var names []string
	for _, d := range b.Spaces {
		names = append(names, d.Name)
	}
	store, err := wiki.New(dir, names, clock.New())
	if err != nil {
		return nil, err
	}
	b.Store = store
	return b.Build()
}

// daemonize applies the process management flags: session, pid file,
// log file, and privilege drop.
func daemonize() error {
	if *setsid {
		if _, err := unix.Setsid(); err != nil {
			log.Println("setsid:", err)
		}
	}
	reopenLog()
	if *pidFile != "" {
		pid := fmt.Sprintf("%d\n", os.Getpid())
		if err := os.WriteFile(*pidFile, []byte(pid), 0644); err != nil {
			return err
		}
	}
	if *groupName != "" {
		g, err := user.LookupGroup(*groupName)
		if err != nil {
			return err
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
		if err := unix.Setgid(gid); err != nil {
			return err
		}
	}
	if *userName != "" {
		u, err := user.Lookup(*userName)
		if err != nil {
			return err
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return err
		}
		if err := unix.Setuid(uid); err != nil {
			return err
		}
	}
	return nil
}

// reopenLog points the log at --log_file, called again on hangup so
// rotated logs are reopened.
func reopenLog() {
	if *logFile == "" {
		return
	}
	f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Println("cannot open log file:", err)
		return
	}
	log.SetOutput(f)
}
