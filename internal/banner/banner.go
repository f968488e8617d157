// Package banner prints the human-readable startup message.
package banner

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"spiffs-devproxy/internal/config"
)

// Print writes the startup banner naming the root directory, the port and
// the device origin that receives every request without a local file.
func Print(w io.Writer, cfg *config.Config) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	_, _ = bold.Fprintf(w, "Serving files from %s on port %d...\n", green.Sprint(cfg.Static.Root), cfg.Server.Port)
	_, _ = fmt.Fprintf(w, "  forwarding everything else to %s\n", cyan.Sprint(cfg.Upstream.Origin))
	_, _ = fmt.Fprintf(w, "  status at http://localhost:%d%s/status\n", cfg.Server.Port, config.ReservedPrefix)
	if cfg.Metrics.Enabled {
		_, _ = fmt.Fprintf(w, "  metrics at http://localhost:%d%s\n", cfg.Server.Port, cfg.Metrics.Path)
	}
}
