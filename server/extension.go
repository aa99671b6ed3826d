package server

import (
	"fmt"

	"github.com/phoebewiki/phoebe/wiki"
)

// The extension surface. Extensions are compiled in and switched on by
// the wiki's config file; there is no in-process scripting. An enabled
// extension's initializer runs against the ConfigBuilder and may
// register the hooks below.

// An Initializer runs while the configuration is being built, at
// startup and again on reload.
type Initializer func(b *ConfigBuilder) error

// A RequestHandler is offered every request before the built-in
// routing, in registration order. Returning nil passes the request on.
type RequestHandler func(cfg *Config, r *Request) *Response

// A MenuContributor adds items to a space's main menu.
type MenuContributor func(cfg *Config, space string) []MenuItem

// A FooterContributor adds a line to a page's footer.
type FooterContributor func(cfg *Config, p *wiki.Page) string

// A MenuItem is one extra entry on the main menu.
type MenuItem struct {
	URL   string
	Label string
}

var builtins = map[string]Initializer{}

// RegisterExtension makes a built-in extension available for enabling
// through the config file. Call from an init function.
func RegisterExtension(name string, init Initializer) {
	builtins[name] = init
}

func init() {
	// version: answer /do/version with the server name, and advertise
	// it on the menu.
	RegisterExtension("version", func(b *ConfigBuilder) error {
		b.OnRequest(func(cfg *Config, r *Request) *Response {
			if len(r.Segments) == 2 && r.Segments[0] == "do" && r.Segments[1] == "version" {
				return gmi(fmt.Sprintf("%s\n", cfg.ServerName))
			}
			return nil
		})
		b.OnMenu(func(cfg *Config, space string) []MenuItem {
			return []MenuItem{{URL: "/do/version", Label: "Server version"}}
		})
		return nil
	})
}
