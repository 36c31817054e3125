package player

import (
	"fmt"
	"time"

	"github.com/petervdpas/boombox/internal/media"
)

// LoadStatus is the tri-state shown to users. Loaded doubles as idle.
type LoadStatus int

const (
	Loaded LoadStatus = iota
	Loading
	Error
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Loading:
		return "loading"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

func (s LoadStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *LoadStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "loaded":
		*s = Loaded
	case "loading":
		*s = Loading
	case "error":
		*s = Error
	default:
		return fmt.Errorf("unknown load status %q", b)
	}
	return nil
}

// State is a snapshot of the controller. Position and Length are seconds.
type State struct {
	CurrentID  media.ID   `json:"current_id"`
	Title      string     `json:"title"`
	ClipLoaded bool       `json:"clip_loaded"`
	Playing    bool       `json:"playing"`
	Position   float64    `json:"position"`
	Length     float64    `json:"length"`
	Status     LoadStatus `json:"status"`
	Volume     float64    `json:"volume"`
	Level      float64    `json:"level"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
