// internal/driver/chrome/options.go
package chrome

import (
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/snapreport/internal/config"
)

// Flags returns the Chrome command line switches for cfg, keyed without the
// leading dashes. Boolean switches map to true.
func Flags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"enable-automation":        true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-dev-shm-usage":    true,
	}
	if cfg.Headless {
		flags["headless"] = true
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}

	// Key=value arguments keep their value; anything else is a boolean switch.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(strings.TrimSpace(arg), "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// AllocatorOptions builds the exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := Flags(cfg)
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]chromedp.ExecAllocatorOption, 0, len(keys)+2)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}

	w, h := cfg.ViewportSize()
	opts = append(opts, chromedp.WindowSize(w, h))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
