package skill

import (
	"fmt"

	"skillrun/internal/registry"
)

// Options selects and tunes the built-in skills.
type Options struct {
	Fetch         FetchConfig
	Browser       BrowserConfig
	EnableBrowser bool
}

// RegisterBuiltins adds the built-in skills to the registry. The browser
// skill is opt-in since it requires a local Chrome installation.
func RegisterBuiltins(reg *registry.Registry, opts Options) error {
	builtins := []struct {
		name  string
		build func() error
	}{
		{"text_stats", func() error { return reg.Register(NewTextStats()) }},
		{"system_info", func() error { return reg.Register(NewSysInfo()) }},
		{"page_get", func() error { return reg.Register(NewPageGet(opts.Fetch)) }},
		{"bulk_get", func() error { return reg.Register(NewBulkGet(opts.Fetch)) }},
	}
	for _, b := range builtins {
		if err := b.build(); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.name, err)
		}
	}

	if opts.EnableBrowser {
		if err := reg.Register(NewPageRender(opts.Browser)); err != nil {
			return fmt.Errorf("register builtin page_render: %w", err)
		}
	}
	return nil
}
