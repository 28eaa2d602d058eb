package poller

import (
	"context"
	"time"

	"github.com/printmux/printmux/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Target is the polled side of a context: something that can report a
// status snapshot. fleet contexts satisfy this through a small adapter
// so the coordinator never depends on the manager directly.
type Target interface {
	TargetID() string
	FetchStatus(ctx context.Context) (*models.StatusSnapshot, error)
}
