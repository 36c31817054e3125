package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/petervdpas/boombox/internal/util"
)

type Config struct {
	Identity   Identity   `json:"identity"`
	P2P        P2P        `json:"p2p"`
	Session    Session    `json:"session"`
	Cache      Cache      `json:"cache"`
	Downloader Downloader `json:"downloader"`
	Audio      Audio      `json:"audio"`
	Viewer     Viewer     `json:"viewer"`
	Storage    Storage    `json:"storage"`
	Log        Log        `json:"log"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`

	// Multiaddrs (with /p2p/<id>) dialled at startup, for peers mDNS can't see.
	BootstrapPeers []string `json:"bootstrap_peers"`
}

type Session struct {
	// Room joined at startup when AutoJoin is set.
	Room     string `json:"room"`
	AutoJoin bool   `json:"auto_join"`

	// Pins the session master to one peer. Empty means the lowest peer ID
	// subscribed to the room wins.
	HostPeerID string `json:"host_peer_id"`

	SyncIntervalSec   int     `json:"sync_interval_sec"`
	DriftThresholdSec float64 `json:"drift_threshold_sec"`
	DebounceMillis    int     `json:"debounce_ms"`
	TickMillis        int     `json:"tick_ms"`
}

type Cache struct {
	Dir        string `json:"dir"`
	MaxEntries int    `json:"max_entries"`
}

type Downloader struct {
	YtDlpPath     string `json:"ytdlp_path"`
	FFmpegPath    string `json:"ffmpeg_path"`
	MaxSizeMB     int    `json:"max_size_mb"`
	Format        string `json:"format"`
	AudioFormat   string `json:"audio_format"`
	ExtractorArgs string `json:"extractor_args"`
}

type Audio struct {
	Volume        float64 `json:"volume"`
	OutputEnabled bool    `json:"output_enabled"`
	SampleRate    int     `json:"sample_rate"`

	// Visualizer: vocal band in Hz, FFT half-size and sampling cadence.
	VocalLow             float64 `json:"vocal_low"`
	VocalHigh            float64 `json:"vocal_high"`
	SampleSize           int     `json:"sample_size"`
	VisualizerIntervalMs int     `json:"visualizer_interval_ms"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
}

type Storage struct {
	HistoryDB string `json:"history_db"`
}

type Log struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "boombox-mdns",
		},
		Session: Session{
			Room:              "lobby",
			AutoJoin:          true,
			SyncIntervalSec:   5,
			DriftThresholdSec: 1.5,
			DebounceMillis:    1000,
			TickMillis:        50,
		},
		Cache: Cache{
			Dir:        filepath.Join(os.TempDir(), "BingBongAudio"),
			MaxEntries: 5,
		},
		Downloader: Downloader{
			YtDlpPath:     "yt-dlp",
			FFmpegPath:    "ffmpeg",
			MaxSizeMB:     100,
			Format:        "bestaudio[abr<=128]/bestaudio[abr<=160]/bestaudio",
			AudioFormat:   "wav",
			ExtractorArgs: "youtube:player_client=tv_simply,default,-tv",
		},
		Audio: Audio{
			Volume:               0.45,
			OutputEnabled:        true,
			SampleRate:           44100,
			VocalLow:             300,
			VocalHigh:            3400,
			SampleSize:           256,
			VisualizerIntervalMs: 50,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8790",
		},
		Storage: Storage{
			HistoryDB: "data/history.db",
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}
	for _, raw := range c.P2P.BootstrapPeers {
		if _, err := ma.NewMultiaddr(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("p2p.bootstrap_peers: %q: %w", raw, err)
		}
	}

	// Session
	if c.Session.AutoJoin && strings.TrimSpace(c.Session.Room) == "" {
		return errors.New("session.room is required when session.auto_join is set")
	}
	if strings.ContainsAny(c.Session.Room, " /\\") {
		return errors.New("session.room must not contain spaces or slashes")
	}
	if c.Session.SyncIntervalSec <= 0 {
		return errors.New("session.sync_interval_sec must be > 0")
	}
	if c.Session.DriftThresholdSec <= 0 {
		return errors.New("session.drift_threshold_sec must be > 0")
	}
	if c.Session.DebounceMillis < 0 {
		return errors.New("session.debounce_ms must be >= 0")
	}
	if c.Session.TickMillis < 10 || c.Session.TickMillis > 1000 {
		return errors.New("session.tick_ms must be 10..1000")
	}

	// Cache
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return errors.New("cache.dir is required")
	}
	if c.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}

	// Downloader
	if strings.TrimSpace(c.Downloader.YtDlpPath) == "" {
		return errors.New("downloader.ytdlp_path is required")
	}
	if c.Downloader.MaxSizeMB <= 0 {
		return errors.New("downloader.max_size_mb must be > 0")
	}
	if c.Downloader.AudioFormat != "wav" {
		return errors.New("downloader.audio_format must be wav")
	}

	// Audio
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return errors.New("audio.volume must be 0..1")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.VocalLow < 0 || c.Audio.VocalHigh <= c.Audio.VocalLow {
		return errors.New("audio.vocal_low must be >= 0 and < audio.vocal_high")
	}
	if c.Audio.SampleSize < 16 || c.Audio.SampleSize&(c.Audio.SampleSize-1) != 0 {
		return errors.New("audio.sample_size must be a power of two >= 16")
	}
	if c.Audio.VisualizerIntervalMs <= 0 {
		return errors.New("audio.visualizer_interval_ms must be > 0")
	}

	// Viewer
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log.level must be debug, info, warn or error")
	}

	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
