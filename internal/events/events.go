package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeJoined   = "joined"
	TypeLeft     = "left"
	TypeUploaded = "uploaded"
	TypeStats    = "stats"
)

// Stats is a point-in-time summary of the relay.
type Stats struct {
	Sessions    int `json:"sessions"`
	Files       int `json:"files"`
	Versions    int `json:"versions"`
	LatestBytes int `json:"latest_bytes"`
}

// Event is a relay activity update pushed to HTTP observers.
type Event struct {
	ID      string    `json:"id,omitempty"`
	Type    string    `json:"type"`
	Name    string    `json:"name,omitempty"`
	File    string    `json:"file,omitempty"`
	Version int       `json:"version,omitempty"`
	Size    int       `json:"size,omitempty"`
	Stats   *Stats    `json:"stats,omitempty"`
	Time    time.Time `json:"time"`
}

// Stamp fills in ID and Time when unset. IDs are ULIDs, so they sort in
// publication order.
func (e Event) Stamp() Event {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	return e
}

// Broadcaster receives relay activity.
type Broadcaster interface {
	Broadcast(e Event)
}

// Fanout forwards each event to every broadcaster in order. Nil entries are
// skipped, so optional sinks can be listed unconditionally.
type Fanout []Broadcaster

func (f Fanout) Broadcast(e Event) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(e)
		}
	}
}
