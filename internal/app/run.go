// Package app wires a peer together: transport, cache, player, downloader,
// session protocol and the local control API.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/cache"
	"github.com/petervdpas/boombox/internal/config"
	"github.com/petervdpas/boombox/internal/fetch"
	"github.com/petervdpas/boombox/internal/listen"
	"github.com/petervdpas/boombox/internal/logs"
	"github.com/petervdpas/boombox/internal/p2p"
	"github.com/petervdpas/boombox/internal/player"
	"github.com/petervdpas/boombox/internal/role"
	"github.com/petervdpas/boombox/internal/state"
	"github.com/petervdpas/boombox/internal/storage"
	"github.com/petervdpas/boombox/internal/util"
	"github.com/petervdpas/boombox/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := opt.Cfg
	if err := SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}

	logBuf := logs.NewBuffer(800)
	go logBuf.Capture(ctx)

	if missing := fetch.CheckTools(cfg.Downloader.YtDlpPath, cfg.Downloader.FFmpegPath); len(missing) > 0 {
		log.Warnf("downloads will fail until installed: %s", strings.Join(missing, ", "))
	}

	// ── Cache
	store, err := cache.Open(util.ResolvePath(opt.PeerDir, cfg.Cache.Dir))
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if n := store.Evict(cfg.Cache.MaxEntries); n > 0 {
		log.Infof("evicted %d cached clips at startup", n)
	}

	// ── History
	db, err := storage.Open(util.ResolvePath(opt.PeerDir, cfg.Storage.HistoryDB))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	// ── Transport
	members := state.NewMemberTable()
	node, err := p2p.New(ctx, p2p.Options{
		ListenPort:     cfg.P2P.ListenPort,
		KeyFile:        util.ResolvePath(opt.PeerDir, cfg.Identity.KeyFile),
		MdnsTag:        cfg.P2P.MdnsTag,
		BootstrapPeers: cfg.P2P.BootstrapPeers,
		HostPeerID:     cfg.Session.HostPeerID,
	}, members)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()

	// ── Player
	var wg sync.WaitGroup
	out := openOutput(ctx, &wg, cfg.Audio)

	rt := role.New(role.NewIdentity(), node.IsMaster)
	ctrl := player.NewController(rt, out, player.Options{
		DriftThreshold: cfg.Session.DriftThresholdSec,
		Volume:         cfg.Audio.Volume,
		VocalLow:       cfg.Audio.VocalLow,
		VocalHigh:      cfg.Audio.VocalHigh,
		SampleSize:     cfg.Audio.SampleSize,
	})

	// ── Acquisition
	pipe := fetch.NewPipeline(store, &fetch.YtDlp{
		Path:          cfg.Downloader.YtDlpPath,
		FFmpegPath:    cfg.Downloader.FFmpegPath,
		MaxSizeMB:     cfg.Downloader.MaxSizeMB,
		Format:        cfg.Downloader.Format,
		AudioFormat:   cfg.Downloader.AudioFormat,
		ExtractorArgs: cfg.Downloader.ExtractorArgs,
	}, ctrl, cfg.Cache.MaxEntries)
	pipe.OnAcquired = func(a fetch.Acquired) {
		if _, err := db.RecordPlay(storage.Play{
			MediaID:   string(a.ID),
			Title:     a.Title,
			Reference: a.Reference,
			Requester: a.Requester,
			Room:      node.Room(),
			FromCache: a.FromCache,
		}); err != nil {
			log.Warnf("record play: %v", err)
		}
	}

	// ── Session protocol
	lm := listen.New(listen.Config{
		SyncInterval:       time.Duration(cfg.Session.SyncIntervalSec) * time.Second,
		Tick:               time.Duration(cfg.Session.TickMillis) * time.Millisecond,
		Debounce:           time.Duration(cfg.Session.DebounceMillis) * time.Millisecond,
		VisualizerInterval: time.Duration(cfg.Audio.VisualizerIntervalMs) * time.Millisecond,
	}, node, rt, ctrl, pipe)
	node.SetHandler(lm.HandleMessage)

	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.Run(ctx)
	}()

	log.Infof("peer id: %s", node.ID())
	log.Infof("participant: %s", rt.Self())

	if cfg.Session.AutoJoin {
		if err := node.JoinSession(cfg.Session.Room); err != nil {
			log.Errorf("auto-join %s: %v", cfg.Session.Room, err)
		}
	}

	// ── Config hot reload
	if opt.CfgPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, opt.CfgPath, func(c config.Config) {
				ctrl.SetVolume(c.Audio.Volume)
				if err := SetLogLevel(c.Log.Level); err != nil {
					log.Warnf("reload: %v", err)
				}
				log.Infof("config reloaded (volume %.2f, log level %s)", c.Audio.Volume, c.Log.Level)
			})
			if err != nil {
				log.Warnf("config watch stopped: %v", err)
			}
		}()
	}

	// ── Control API
	errCh := make(chan error, 1)
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			errCh <- viewer.Start(ctx, addr, viewer.Viewer{
				Listen:  lm,
				Player:  ctrl,
				Session: node,
				Members: members,
				History: db,
				Cache:   store,
				Logs:    logBuf,
			})
		}()
		log.Infof("control API: %s", url)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			runErr = fmt.Errorf("control API: %w", runErr)
		}
	}

	cancel()
	node.LeaveSession()
	pipe.Cancel()
	pipe.Wait()
	ctrl.Close()
	wg.Wait()
	return runErr
}

// openOutput picks the sound device, or a clock-driven null output when audio
// is disabled or no device can be opened.
func openOutput(ctx context.Context, wg *sync.WaitGroup, a config.Audio) player.Output {
	rate := beep.SampleRate(a.SampleRate)
	if a.OutputEnabled {
		out, err := player.NewSpeakerOutput(rate)
		if err == nil {
			return out
		}
		log.Warnf("audio output unavailable, playing silently: %v", err)
	}

	out := player.NewNullOutput(rate)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out.Run(ctx, 20*time.Millisecond)
	}()
	return out
}
