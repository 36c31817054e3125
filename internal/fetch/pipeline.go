// Package fetch turns a media reference into a playable cached file, either
// straight from the cache or through one yt-dlp download at a time.
package fetch

import (
	"context"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/cache"
	"github.com/petervdpas/boombox/internal/media"
	"github.com/petervdpas/boombox/internal/player"
)

var log = logging.Logger("fetch")

// Sink is the part of player.Controller the pipeline drives.
type Sink interface {
	SetCurrent(id media.ID, title string)
	SetTitle(title string)
	SetStatus(s player.LoadStatus)
	Load(path string) <-chan error
	CancelLoad()
}

// Acquired describes a reference that made it into the player.
type Acquired struct {
	ID        media.ID
	Title     string
	Reference string
	Requester string
	FromCache bool
}

type Pipeline struct {
	store      *cache.Store
	dl         Downloader
	sink       Sink
	maxEntries int

	// OnAcquired, if set, runs after a clip loaded successfully.
	OnAcquired func(Acquired)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipeline(store *cache.Store, dl Downloader, sink Sink, maxEntries int) *Pipeline {
	if maxEntries < 1 {
		maxEntries = cache.DefaultMaxEntries
	}
	return &Pipeline{store: store, dl: dl, sink: sink, maxEntries: maxEntries}
}

// Resolve starts acquiring reference and returns false if the reference was
// rejected. Any earlier acquisition still running is superseded: its download
// is killed and its result dropped.
func (p *Pipeline) Resolve(ctx context.Context, reference, requester string) bool {
	if !media.IsValidReference(reference) {
		log.Warnf("rejecting reference %q", reference)
		return false
	}

	id := media.DeriveID(reference)
	log.Infof("playing audio with id %s", id)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.sink.CancelLoad()
	p.sink.SetCurrent(id, p.store.Title(id))

	acq := Acquired{ID: id, Reference: reference, Requester: requester}

	if e, ok := p.store.Lookup(id); ok {
		acq.Title = e.Title
		acq.FromCache = true
		p.sink.SetTitle(e.Title)
		p.await(gen, acq, p.sink.Load(e.AudioPath))
		return true
	}

	p.sink.SetStatus(player.Loading)
	if n := p.store.Evict(p.maxEntries); n > 0 {
		log.Infof("evicted %d cached files", n)
	}

	dctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if gen != p.gen {
		// A newer Resolve ran between the two critical sections.
		p.mu.Unlock()
		cancel()
		return true
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.download(dctx, gen, acq)
	}()
	return true
}

func (p *Pipeline) download(ctx context.Context, gen uint64, acq Acquired) {
	path := p.store.AudioPath(acq.ID)
	title, err := p.dl.Download(ctx, acq.Reference, path)

	if !p.current(gen) {
		log.Infof("download of %s superseded", acq.ID)
		return
	}
	if err != nil {
		log.Warnf("downloader for %s: %v", acq.ID, err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		log.Errorf("download failed or file missing for %s", acq.ID)
		p.sink.SetStatus(player.Error)
		return
	}

	e, err := p.store.Put(acq.ID, title)
	if err != nil {
		log.Errorf("cache %s: %v", acq.ID, err)
		p.sink.SetStatus(player.Error)
		return
	}
	acq.Title = e.Title
	p.sink.SetTitle(e.Title)

	if err := <-p.sink.Load(path); err == nil && p.current(gen) {
		p.acquired(acq)
	}
}

func (p *Pipeline) await(gen uint64, acq Acquired, done <-chan error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := <-done; err == nil && p.current(gen) {
			p.acquired(acq)
		}
	}()
}

func (p *Pipeline) acquired(acq Acquired) {
	if p.OnAcquired != nil {
		p.OnAcquired(acq)
	}
}

func (p *Pipeline) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

// Cancel kills any running download and drops pending results.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

// Wait blocks until background downloads and loads have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }
