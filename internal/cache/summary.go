package cache

import (
	"fmt"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// SummaryCache holds AI-generated daily summaries in memory, keyed by
// YYYY-MM-DD. Entries expire one hour after they are cached and are never
// persisted.
type SummaryCache struct {
	entries *TTLMap[string, api.DailySummary]
	verbose bool
}

// NewSummaryCache creates an empty summary cache.
func NewSummaryCache(verbose bool) *SummaryCache {
	return &SummaryCache{
		entries: NewTTLMap[string, api.DailySummary](core.SummaryTTL),
		verbose: verbose,
	}
}

func (c *SummaryCache) log(msg string) {
	core.Eprint(fmt.Sprintf("[SummaryCache] %s", msg), c.verbose)
}

// DateKey returns the cache key for date.
func DateKey(date time.Time) string {
	return date.Format(core.APIDateFmt)
}

// Get returns the summary for dateKey if it is less than an hour old.
func (c *SummaryCache) Get(dateKey string) (api.DailySummary, bool) {
	return c.entries.Get(dateKey)
}

// Put caches summary under dateKey.
func (c *SummaryCache) Put(dateKey string, summary api.DailySummary) {
	c.entries.Put(dateKey, summary)
	c.log(fmt.Sprintf("Cached summary for %s", dateKey))
}

// Invalidate drops the summary for dateKey.
func (c *SummaryCache) Invalidate(dateKey string) {
	c.entries.Delete(dateKey)
	c.log(fmt.Sprintf("Invalidated summary for %s", dateKey))
}

// InvalidateAll drops every summary. Called when calendar or health data changes.
func (c *SummaryCache) InvalidateAll() {
	c.entries.Clear()
	c.log("Invalidated all summaries")
}

// Len returns the number of cached summaries.
func (c *SummaryCache) Len() int {
	return c.entries.Len()
}
