package subscription

import (
	"context"
	"time"
)

// ProfileStore is the only write path into persisted profile state.
//
// UpdateByCustomerID sets the fields of upd on the profile whose customer
// identifier equals customerID. Implementations must return:
//   - nil when exactly one profile was updated
//   - ErrProfileNotFound when no profile carries customerID
//   - ErrStaleEvent when upd.Ordered is set and a newer event was already applied
//   - an error wrapping ErrStore for anything else
type ProfileStore interface {
	UpdateByCustomerID(ctx context.Context, customerID string, upd *Update) error
}

// ProfileReader is implemented by stores that can return the current snapshot.
type ProfileReader interface {
	GetByCustomerID(ctx context.Context, customerID string) (*Profile, error)
}

// ProfileSeeder is implemented by stores that can create a profile row for a
// customer. Profile creation is owned by the application; seeding exists for
// mirrors (tiered hot store) and tests.
type ProfileSeeder interface {
	SeedProfile(ctx context.Context, p *Profile) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TimeSource is implemented by stores that expose their own clock.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}
