// Package directory stores session advertisements so that hosted sessions
// can be discovered by other participants. A record lives under a TTL and
// disappears unless the host refreshes it.
package directory

import (
	"context"
	"errors"
	"time"
)

var ErrRecordNotFound = errors.New("session record not found")

// Record is one advertised session.
type Record struct {
	ID             string            `json:"id"`
	HostID         string            `json:"host_id"`
	HostName       string            `json:"host_name"`
	ConnectAddress string            `json:"connect_address"`
	MaxPlayers     int               `json:"max_players"`
	OpenSlots      int               `json:"open_slots"`
	LAN            bool              `json:"lan"`
	UsesLobbies    bool              `json:"uses_lobbies"`
	InProgress     bool              `json:"in_progress"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	AdvertisedAt   time.Time         `json:"advertised_at"`
}

type Directory interface {
	// Advertise publishes or republishes a record with the given TTL.
	Advertise(ctx context.Context, rec *Record, ttl time.Duration) error
	// Refresh extends a live record's TTL. Returns ErrRecordNotFound if the
	// record has already expired or was withdrawn.
	Refresh(ctx context.Context, id string, ttl time.Duration) error
	Withdraw(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit live records. Ordering is
	// implementation-defined.
	List(ctx context.Context, limit int64) ([]*Record, error)
}
