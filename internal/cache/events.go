package cache

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

const extraDaysFetched = "days_fetched"

// EventMetadata describes the cached calendar events.
type EventMetadata struct {
	LastUpdated time.Time `json:"last_updated"`
	EventsCount int       `json:"events_count"`
	DaysFetched int       `json:"days_fetched"`
}

// EventCache caches calendar events with a fixed validity window that ignores
// the generic per-entry expiration.
//
// SaveEvents writes in the background; LoadEvents reads synchronously so the
// first paint can use cached data.
type EventCache struct {
	store   *Store
	window  time.Duration
	verbose bool
	now     func() time.Time

	wg      sync.WaitGroup
	writeMu sync.Mutex // serializes background writes
	seqMu   sync.Mutex
	seq     uint64 // last save requested
	written uint64 // last save persisted
}

// NewEventCache creates an event cache over store.
func NewEventCache(store *Store, verbose bool) *EventCache {
	return &EventCache{
		store:   store,
		window:  core.EventCacheWindow,
		verbose: verbose,
		now:     time.Now,
	}
}

func (c *EventCache) log(msg string) {
	core.Eprint(fmt.Sprintf("[EventCache] %s", msg), c.verbose)
}

// SaveEvents persists events and their metadata without blocking the caller.
// When saves overlap, the most recently requested one wins.
func (c *EventCache) SaveEvents(events []api.Event, daysFetched int) {
	if events == nil {
		events = []api.Event{}
	}
	snapshot := append([]api.Event(nil), events...)
	meta := Metadata{
		LastUpdated:       c.now(),
		ExpirationSeconds: c.window.Seconds(),
		RecordCount:       len(snapshot),
		Extra:             map[string]string{extraDaysFetched: strconv.Itoa(daysFetched)},
	}

	c.seqMu.Lock()
	c.seq++
	mine := c.seq
	c.seqMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		c.seqMu.Lock()
		stale := mine < c.written
		c.seqMu.Unlock()
		if stale {
			return
		}

		if err := c.store.Put(KeyEvents, snapshot, meta); err != nil {
			c.log(fmt.Sprintf("Failed to save %d events: %v", len(snapshot), err))
			return
		}

		c.seqMu.Lock()
		c.written = mine
		c.seqMu.Unlock()
		c.log(fmt.Sprintf("Saved %d events (%d days)", len(snapshot), daysFetched))
	}()
}

// Wait blocks until every pending SaveEvents write has finished.
func (c *EventCache) Wait() {
	c.wg.Wait()
}

// LoadEvents returns the cached events regardless of freshness.
// A payload without metadata is a miss.
func (c *EventCache) LoadEvents() ([]api.Event, bool) {
	var events []api.Event
	if _, ok := c.store.GetJSON(KeyEvents, &events); !ok {
		return nil, false
	}
	return events, true
}

// Metadata returns the cached events' metadata, or nil.
func (c *EventCache) Metadata() *EventMetadata {
	meta := c.store.Metadata(KeyEvents)
	if meta == nil {
		return nil
	}
	days, _ := strconv.Atoi(meta.Extra[extraDaysFetched])
	return &EventMetadata{
		LastUpdated: meta.LastUpdated,
		EventsCount: meta.RecordCount,
		DaysFetched: days,
	}
}

// IsCacheValid reports whether the events were saved less than the fixed
// window ago. Only the metadata timestamp is consulted.
func (c *EventCache) IsCacheValid() bool {
	meta := c.Metadata()
	if meta == nil {
		return false
	}
	return c.now().Sub(meta.LastUpdated) < c.window
}

// HasCache reports whether there is fresh, non-empty event data. A fresh
// cache with zero events means "confirmed no events", not "has data".
func (c *EventCache) HasCache() bool {
	meta := c.Metadata()
	return meta != nil && meta.EventsCount > 0 && c.IsCacheValid()
}

// Clear removes the cached events. Pending writes are awaited first.
func (c *EventCache) Clear() error {
	c.Wait()
	return c.store.Invalidate(KeyEvents)
}
