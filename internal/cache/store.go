// Package cache keeps downloaded audio on disk, keyed by media ID, with a
// title sidecar per entry and a bounded number of entries.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/media"
	"github.com/petervdpas/boombox/internal/util"
)

var log = logging.Logger("cache")

const (
	filePrefix   = "bingbong_"
	audioExt     = ".wav"
	metaExt      = ".json"
	UnknownTitle = "Unknown"

	DefaultMaxEntries = 5
)

type Entry struct {
	ID         media.ID      `json:"id"`
	AudioPath  string        `json:"audio_path"`
	MetaPath   string        `json:"meta_path"`
	Title      string        `json:"title"`
	AccessedAt time.Time     `json:"accessed_at"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
}

type metadata struct {
	Title string `json:"title"`
}

// Store is a flat directory of bingbong_<id>.wav files plus
// bingbong_<id>.json sidecars. A file's modification time is its last access;
// Lookup and Put stamp it.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) AudioPath(id media.ID) string {
	return filepath.Join(s.dir, filePrefix+string(id)+audioExt)
}

func (s *Store) MetaPath(id media.ID) string {
	return filepath.Join(s.dir, filePrefix+string(id)+metaExt)
}

// Title returns the sidecar title, or "" when there is no readable sidecar.
func (s *Store) Title(id media.ID) string {
	var meta metadata
	if err := util.ReadJSONFile(s.MetaPath(id), &meta); err != nil {
		return ""
	}
	return meta.Title
}

// Lookup reports a hit only for a readable WAV file. A file that exists but
// doesn't decode as WAV is removed so the next request downloads it again.
func (s *Store) Lookup(id media.ID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.AudioPath(id)
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, false
	}

	dur, ok := probeWAV(path)
	if !ok {
		log.Warnf("cached file %s is not a valid wav, dropping it", filepath.Base(path))
		s.remove(id)
		return Entry{}, false
	}

	e := s.entry(id, info)
	e.Duration = dur
	e.AccessedAt = s.touch(path)
	return e, true
}

// Put records an entry whose audio file the downloader already wrote.
func (s *Store) Put(id media.ID, title string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.AudioPath(id)
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("cache put %s: %w", id, err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = UnknownTitle
	}
	if err := util.WriteJSONFile(s.MetaPath(id), metadata{Title: title}); err != nil {
		return Entry{}, fmt.Errorf("write metadata: %w", err)
	}

	e := s.entry(id, info)
	e.Title = title
	e.Duration, _ = probeWAV(path)
	e.AccessedAt = s.touch(path)
	return e, nil
}

// Evict keeps the maxEntries most recently accessed entries and deletes the
// rest along with their sidecars. Returns how many were removed. Failed
// deletes are logged and the entry stays for the next pass.
func (s *Store) Evict(maxEntries int) int {
	if maxEntries < 0 {
		maxEntries = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.list()
	if err != nil {
		log.Errorf("evict: list cache: %v", err)
		return 0
	}
	if len(entries) <= maxEntries {
		return 0
	}

	removed := 0
	for _, e := range entries[maxEntries:] {
		if err := s.remove(e.ID); err != nil {
			log.Errorf("evict %s: %v", e.ID, err)
			continue
		}
		log.Debugf("evicted %s (%s)", e.ID, e.Title)
		removed++
	}
	return removed
}

// List returns every entry, most recently accessed first.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Clear removes every cache file, including sidecars without audio.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) list() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+audioExt))
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		name := filepath.Base(m)
		id := media.ID(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), audioExt))
		out = append(out, s.entry(id, info))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AccessedAt.After(out[j].AccessedAt)
	})
	return out, nil
}

func (s *Store) entry(id media.ID, info os.FileInfo) Entry {
	title := s.Title(id)
	if title == "" {
		title = UnknownTitle
	}
	return Entry{
		ID:         id,
		AudioPath:  s.AudioPath(id),
		MetaPath:   s.MetaPath(id),
		Title:      title,
		AccessedAt: info.ModTime(),
		Size:       info.Size(),
	}
}

func (s *Store) touch(path string) time.Time {
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		log.Warnf("stamp access time on %s: %v", filepath.Base(path), err)
	}
	return now
}

func (s *Store) remove(id media.ID) error {
	var errs []error
	for _, p := range []string{s.AudioPath(id), s.MetaPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func probeWAV(path string) (time.Duration, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, false
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, true
	}
	return dur, true
}
