package server

import (
	"crypto/tls"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/phoebewiki/phoebe/wiki"
)

// A SpaceDecl binds a wiki space to a host. An empty host means the
// space exists on every declared host.
type SpaceDecl struct {
	Host string
	Name string
}

// Config is the immutable configuration snapshot handlers run against.
// It is built once at startup and rebuilt wholesale on reload; nothing
// mutates a Config after Build.
type Config struct {
	ServerName string // e.g. "phoebe/1.0"

	Hosts []string // declared hosts, normalized
	Port  string   // the port used in canonical URLs
	Ports []string // every port the listener binds

	LogLevel int

	// Certificates by host name; Default is used when SNI matches no
	// declared host.
	Certs   map[string]*tls.Certificate
	Default *tls.Certificate

	WikiDir string
	Store   *wiki.Store
	Clock   clock.Clock

	Spaces      []SpaceDecl
	Tokens      []string
	SpaceTokens map[string][]string

	MainPage   string
	ExtraPages []string
	MIMETypes  []string
	PageLimit  int

	// Fingerprints is the client certificate whitelist. A request
	// carrying one of these writes without a token.
	Fingerprints []string

	handlers []RequestHandler
	menus    []MenuContributor
	footers  []FooterContributor
	css      string
}

// SpacesFor returns the space names visible on a host.
func (c *Config) SpacesFor(host string) []string {
	var out []string
	for _, d := range c.Spaces {
		if d.Host == "" || d.Host == host {
			out = append(out, d.Name)
		}
	}
	return out
}

// CSS returns the stylesheet served at /default.css.
func (c *Config) CSS() string {
	if c.css != "" {
		return c.css
	}
	return defaultCSS
}

// A ConfigBuilder accumulates configuration during startup. Extensions
// receive the builder from their initializer; after Build the
// resulting Config never changes.
type ConfigBuilder struct {
	Config
}

// NewConfigBuilder returns a builder preloaded with the defaults that
// do not depend on flags.
func NewConfigBuilder() *ConfigBuilder {
	b := &ConfigBuilder{}
	b.PageLimit = 10000
	b.Port = "1965"
	b.Ports = []string{"1965"}
	b.LogLevel = 1
	b.SpaceTokens = make(map[string][]string)
	b.Certs = make(map[string]*tls.Certificate)
	return b
}

func (b *ConfigBuilder) AddToken(t string) {
	b.Tokens = append(b.Tokens, t)
}

func (b *ConfigBuilder) AddSpaceToken(space, t string) {
	b.SpaceTokens[space] = append(b.SpaceTokens[space], t)
}

func (b *ConfigBuilder) AddSpace(host, name string) {
	b.Spaces = append(b.Spaces, SpaceDecl{Host: host, Name: name})
}

func (b *ConfigBuilder) AddExtraPage(name string) {
	b.ExtraPages = append(b.ExtraPages, name)
}

func (b *ConfigBuilder) AddMIMEType(t string) {
	b.MIMETypes = append(b.MIMETypes, t)
}

func (b *ConfigBuilder) AddFingerprint(fp string) {
	b.Fingerprints = append(b.Fingerprints, fp)
}

func (b *ConfigBuilder) SetCSS(css string) {
	b.css = css
}

// OnRequest registers a handler that is offered every request before
// the built-in routing. The first handler returning a non-nil response
// wins.
func (b *ConfigBuilder) OnRequest(h RequestHandler) {
	b.handlers = append(b.handlers, h)
}

// OnMenu registers a contributor of extra main menu items.
func (b *ConfigBuilder) OnMenu(m MenuContributor) {
	b.menus = append(b.menus, m)
}

// OnFooter registers a contributor of extra page footer lines.
func (b *ConfigBuilder) OnFooter(f FooterContributor) {
	b.footers = append(b.footers, f)
}

// Build finalizes the configuration. The global token defaults to
// "hello" when none was configured.
func (b *ConfigBuilder) Build() (*Config, error) {
	c := b.Config
	if len(c.Tokens) == 0 {
		c.Tokens = []string{"hello"}
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 10000
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	for _, d := range c.Spaces {
		if !wiki.ValidName(d.Name) {
			return nil, errors.Errorf("bad space name %q", d.Name)
		}
	}
	return &c, nil
}

// fileConfig is the optional TOML file named config at the top of the
// wiki directory. It enables built-in extensions and supplies the
// settings that should survive outside the command line.
type fileConfig struct {
	MainPage     string              `toml:"main_page"`
	ExtraPages   []string            `toml:"extra_pages"`
	Tokens       []string            `toml:"tokens"`
	SpaceTokens  map[string][]string `toml:"space_tokens"`
	MIMETypes    []string            `toml:"mime_types"`
	Extensions   []string            `toml:"extensions"`
	Fingerprints []string            `toml:"fingerprints"`
}

// LoadFile merges the wiki directory's config file, when present, into
// the builder and runs the initializers of the extensions it enables.
func (b *ConfigBuilder) LoadFile() error {
	path := filepath.Join(b.WikiDir, "config")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading config file")
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return errors.Wrap(err, "parsing config file")
	}
	if fc.MainPage != "" {
		b.MainPage = fc.MainPage
	}
	for _, p := range fc.ExtraPages {
		b.AddExtraPage(p)
	}
	for _, t := range fc.Tokens {
		b.AddToken(t)
	}
	for space, ts := range fc.SpaceTokens {
		for _, t := range ts {
			b.AddSpaceToken(space, t)
		}
	}
	for _, m := range fc.MIMETypes {
		b.AddMIMEType(m)
	}
	for _, fp := range fc.Fingerprints {
		b.AddFingerprint(fp)
	}
	for _, name := range fc.Extensions {
		init := builtins[name]
		if init == nil {
			return errors.Errorf("unknown extension %q", name)
		}
		if err := init(b); err != nil {
			return errors.Wrapf(err, "initializing extension %q", name)
		}
	}
	return nil
}
