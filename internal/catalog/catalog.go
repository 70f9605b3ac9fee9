// Package catalog assigns the shared activity produced by a consumption.
package catalog

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/goodtune/duet/internal/storage"
)

// ErrEmpty is returned when a catalog has no activities.
var ErrEmpty = errors.New("catalog: no activities")

// Catalog picks activities uniformly at random.
type Catalog struct {
	activities []string
	now        func() time.Time
}

// New creates a catalog of the given activity slugs. Blank and duplicate
// entries are dropped.
func New(activities []string) (*Catalog, error) {
	seen := make(map[string]bool, len(activities))
	var cleaned []string
	for _, a := range activities {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		cleaned = append(cleaned, a)
	}
	if len(cleaned) == 0 {
		return nil, ErrEmpty
	}
	return &Catalog{activities: cleaned, now: time.Now}, nil
}

// Activities returns the configured activity slugs.
func (c *Catalog) Activities() []string {
	return append([]string(nil), c.activities...)
}

// Produce builds a candidate result for one consumption.
func (c *Catalog) Produce() (storage.Result, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.activities))))
	if err != nil {
		return storage.Result{}, err
	}
	activity := c.activities[n.Int64()]
	return storage.Result{
		Activity:       activity,
		NavigateTarget: NavigateTarget(activity),
		ProducedAt:     c.now().UTC(),
	}, nil
}

// NavigateTarget is the client route both members move to for an activity.
func NavigateTarget(activity string) string {
	return "/activities/" + activity
}
