// Package logs keeps a queryable tail of this process's go-log output.
package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/util"
)

// Entry is one go-log record. Subsystem is the logger name ("player",
// "p2p", ...).
type Entry struct {
	TS        time.Time `json:"ts"`
	Level     string    `json:"level"`
	Subsystem string    `json:"subsystem"`
	Msg       string    `json:"msg"`
}

// Query selects entries. Zero values match everything; Level is the
// minimum level name ("warn" keeps warn and above).
type Query struct {
	Subsystem string
	Level     string
	Limit     int
}

func (q Query) match(e Entry) bool {
	if q.Subsystem != "" && e.Subsystem != q.Subsystem {
		return false
	}
	if q.Level == "" {
		return true
	}
	floor, err := logging.LevelFromString(q.Level)
	if err != nil {
		return true
	}
	lvl, err := logging.LevelFromString(e.Level)
	return err != nil || lvl >= floor
}

// ParseQuery reads ?subsystem=, ?level= and ?limit= from r.
func ParseQuery(r *http.Request) (Query, error) {
	v := r.URL.Query()
	q := Query{Subsystem: v.Get("subsystem"), Level: v.Get("level")}
	if q.Level != "" {
		if _, err := logging.LevelFromString(q.Level); err != nil {
			return q, fmt.Errorf("unknown level %q", q.Level)
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

// Buffer keeps the most recent log records of this process and fans new
// ones out to stream subscribers.
type Buffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[Entry]
	subs    map[chan Entry]struct{}
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 500
	}
	return &Buffer{
		entries: util.NewRingBuffer[Entry](max),
		subs:    make(map[chan Entry]struct{}),
	}
}

// zap's production encoder keys, as emitted by the go-log JSON pipe.
type pipeRecord struct {
	Level  string `json:"level"`
	TS     string `json:"ts"`
	Logger string `json:"logger"`
	Msg    string `json:"msg"`
}

const pipeTimeLayout = "2006-01-02T15:04:05.000Z0700"

// Capture records every go-log line until ctx is done.
func (b *Buffer) Capture(ctx context.Context) {
	pr := logging.NewPipeReader()
	go func() {
		<-ctx.Done()
		_ = pr.Close()
	}()
	b.consume(pr)
}

func (b *Buffer) consume(r io.Reader) {
	dec := json.NewDecoder(r)
	for {
		var rec pipeRecord
		if err := dec.Decode(&rec); err != nil {
			return
		}
		ts, err := time.Parse(pipeTimeLayout, rec.TS)
		if err != nil {
			ts = time.Now()
		}
		b.Add(Entry{TS: ts, Level: rec.Level, Subsystem: rec.Logger, Msg: rec.Msg})
	}
}

func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Push(e)
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Entries returns matching entries, oldest first. A limit keeps the newest.
func (b *Buffer) Entries(q Query) []Entry {
	b.mu.Lock()
	all := b.entries.Snapshot()
	b.mu.Unlock()

	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if q.match(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

func (b *Buffer) Subscribe() (ch chan Entry, cancel func()) {
	ch = make(chan Entry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Stream sends matching new entries to fn until ctx is done or fn fails.
func (b *Buffer) Stream(ctx context.Context, q Query, fn func(Entry) error) error {
	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !q.match(e) {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}
