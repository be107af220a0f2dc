package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type briefing struct {
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

func newTestStore(t *testing.T, backend Backend) (*Store, *time.Time) {
	t.Helper()
	s := NewStore(backend, false)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestIsValidBoundary(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"just written", 0, true},
		{"one second before expiry", 9*time.Minute + 59*time.Second, true},
		{"exactly at expiry", 10 * time.Minute, false},
		{"after expiry", 11 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, now := newTestStore(t, NewMemoryBackend())
			if err := s.Set("k", briefing{Date: "2024-05-01"}, 10*time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			*now = now.Add(tt.advance)
			if got := s.IsValid("k"); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidMissingKey(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	if s.IsValid("missing") {
		t.Error("expected missing key to be invalid")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"memory":     func(t *testing.T) Backend { return NewMemoryBackend() },
		"filesystem": func(t *testing.T) Backend { return NewFilesystemBackend(t.TempDir()) },
	}

	for name, mk := range backends {
		for _, ttl := range []time.Duration{time.Second, 30 * time.Minute, 24 * time.Hour} {
			t.Run(name+"/"+ttl.String(), func(t *testing.T) {
				s, _ := newTestStore(t, mk(t))
				in := briefing{Date: "2024-05-01", Summary: "three meetings"}
				if err := s.Set(KeyDailyBriefing(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), in, ttl); err != nil {
					t.Fatalf("set: %v", err)
				}

				var out briefing
				meta, ok := s.GetJSON("daily_briefing_2024-05-01", &out)
				if !ok {
					t.Fatal("expected cache hit")
				}
				if out != in {
					t.Errorf("round trip mismatch: got %+v want %+v", out, in)
				}
				if meta.Expiration() != ttl {
					t.Errorf("expected expiration %s, got %s", ttl, meta.Expiration())
				}
			})
		}
	}
}

func TestRecordCountForSlices(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	s.Set("list", []briefing{{}, {}, {}}, time.Hour)

	if meta := s.Metadata("list"); meta == nil || meta.RecordCount != 3 {
		t.Errorf("expected record count 3, got %+v", meta)
	}
}

func TestCorruptPayloadIsDeleted(t *testing.T) {
	root := t.TempDir()
	backend := NewFilesystemBackend(root)
	s, _ := newTestStore(t, backend)

	if err := s.Set("health_summary_2024-05-01", briefing{Summary: "ok"}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := os.WriteFile(backend.Path("health_summary_2024-05-01"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	var out briefing
	if _, ok := s.GetJSON("health_summary_2024-05-01", &out); ok {
		t.Fatal("expected miss for corrupt payload")
	}
	if _, err := os.Stat(backend.Path("health_summary_2024-05-01")); !os.IsNotExist(err) {
		t.Error("expected corrupt payload to be deleted")
	}
	if _, ok := s.GetJSON("health_summary_2024-05-01", &out); ok {
		t.Fatal("expected second read to miss as well")
	}
	if s.IsValid("health_summary_2024-05-01") {
		t.Error("expected deleted entry to be invalid")
	}
}

func TestCorruptMetadataIsDeleted(t *testing.T) {
	root := t.TempDir()
	backend := NewFilesystemBackend(root)
	s, _ := newTestStore(t, backend)

	s.Set("k", briefing{}, time.Hour)
	os.WriteFile(filepath.Join(root, metaDir, "k.json"), []byte("garbage"), 0o644)

	if s.Get("k") != nil {
		t.Fatal("expected miss for corrupt metadata")
	}
	if _, err := os.Stat(backend.Path("k")); !os.IsNotExist(err) {
		t.Error("expected payload removed along with corrupt metadata")
	}
}

func TestPayloadWithoutMetadataIsMiss(t *testing.T) {
	root := t.TempDir()
	backend := NewFilesystemBackend(root)
	s, _ := newTestStore(t, backend)

	s.Set("k", briefing{}, time.Hour)
	os.Remove(filepath.Join(root, metaDir, "k.json"))

	if s.Get("k") != nil {
		t.Error("expected miss without metadata")
	}
	if s.IsValid("k") {
		t.Error("expected invalid without metadata")
	}
}

func TestUndecodablePayloadIsDeleted(t *testing.T) {
	backend := NewMemoryBackend()
	s, _ := newTestStore(t, backend)

	s.Set("k", []string{"a", "b"}, time.Hour)

	var out briefing
	if _, ok := s.GetJSON("k", &out); ok {
		t.Fatal("expected miss when payload does not decode into target type")
	}
	if backend.Len() != 0 {
		t.Error("expected entry deleted")
	}
}

func TestFailedWriteLeavesMiss(t *testing.T) {
	backend := NewMemoryBackend()
	s, _ := newTestStore(t, backend)

	s.Set("k", briefing{Summary: "old"}, time.Hour)
	backend.FailWrites = errors.New("disk full")

	if err := s.Set("k", briefing{Summary: "new"}, time.Hour); err == nil {
		t.Fatal("expected write error")
	}
	if s.IsValid("k") {
		t.Error("expected entry invalid after failed write")
	}
}

func TestFilesystemWriteReplacesPair(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())
	s, now := newTestStore(t, backend)

	s.Set("k", briefing{Summary: "first"}, time.Minute)
	*now = now.Add(2 * time.Minute)
	s.Set("k", briefing{Summary: "second"}, time.Minute)

	var out briefing
	if !s.GetFresh("k", &out) {
		t.Fatal("expected fresh entry after overwrite")
	}
	if out.Summary != "second" {
		t.Errorf("expected latest payload, got %q", out.Summary)
	}
}

func TestGetFreshSkipsStaleEntries(t *testing.T) {
	s, now := newTestStore(t, NewMemoryBackend())
	s.Set("k", briefing{Summary: "x"}, time.Minute)
	*now = now.Add(time.Minute)

	var out briefing
	if s.GetFresh("k", &out) {
		t.Error("expected stale entry to be skipped")
	}
	if s.Get("k") == nil {
		t.Error("expected stale entry still readable through Get")
	}
}

func TestFilesystemKeysRoundTrip(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())
	s, _ := newTestStore(t, backend)

	keys := []string{"health_insights_2024-05-01_2024-05-07", "odd/key with spaces"}
	for _, k := range keys {
		if err := s.Set(k, briefing{}, time.Hour); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
	}

	got := map[string]bool{}
	for _, k := range s.Keys() {
		got[k] = true
	}
	for _, k := range keys {
		if !got[k] {
			t.Errorf("expected key %q in %v", k, s.Keys())
		}
	}
}

func TestInvalidatePrefix(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	s.Set(KeyHealthSummary(day), briefing{}, time.Hour)
	s.Set(KeyHealthInsights(day, day.AddDate(0, 0, 6)), briefing{}, time.Hour)
	s.Set(KeyDailyBriefing(day), briefing{}, time.Hour)

	if n := s.InvalidatePrefix(PrefixHealth); n != 2 {
		t.Errorf("expected 2 health entries removed, got %d", n)
	}
	if !s.IsValid(KeyDailyBriefing(day)) {
		t.Error("expected briefing untouched")
	}
}

func TestClear(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())
	s, _ := newTestStore(t, backend)
	s.Set("a", briefing{}, time.Hour)
	s.Set("b", briefing{}, time.Hour)

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(s.Keys()) != 0 {
		t.Errorf("expected no keys after clear, got %v", s.Keys())
	}
	// Clearing an empty cache is fine.
	if err := s.Clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}
