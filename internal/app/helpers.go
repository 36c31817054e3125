package app

import (
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/config"
)

// Subsystems lists every boombox logger name.
var Subsystems = []string{
	"app", "cache", "config", "debounce", "fetch", "listen",
	"p2p", "player", "role", "storage", "viewer",
}

// SetLogLevel applies level to all boombox loggers, leaving libp2p's alone.
func SetLogLevel(level string) error {
	for _, s := range Subsystems {
		if err := logging.SetLogLevel(s, level); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	return nil
}

// NormalizeLocalViewer forces the API onto loopback and returns the listen
// address and its base URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	return a, "http://" + a
}

func PrintPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Boombox Peer                        ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	if cfg.Session.AutoJoin {
		fmt.Printf("Room:           %s\n", cfg.Session.Room)
	}
	fmt.Printf("Cache:          %s (max %d)\n", cfg.Cache.Dir, cfg.Cache.MaxEntries)
	if cfg.Viewer.HTTPAddr != "" {
		_, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		fmt.Printf("Control API:    %s\n", url)
	}
	fmt.Println()
}
