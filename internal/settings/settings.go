// Package settings persists lightweight UI-adjacent preferences (notification
// toggles, one-time migration flags, the install's device id) as a YAML file.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Settings is the persisted preference document.
type Settings struct {
	NotificationsEnabled   bool       `yaml:"notifications_enabled"`
	DailyBriefingEnabled   bool       `yaml:"daily_briefing_enabled"`
	DailyBriefingTime      string     `yaml:"daily_briefing_time"`
	WeeklyReviewEnabled    bool       `yaml:"weekly_review_enabled"`
	HealthRemindersEnabled bool       `yaml:"health_reminders_enabled"`
	KeychainMigrated       bool       `yaml:"keychain_migrated"`
	DeviceID               string     `yaml:"device_id,omitempty"`
	LastSignIn             *time.Time `yaml:"last_sign_in,omitempty"`
}

// Defaults returns the settings used before anything was saved.
func Defaults() Settings {
	return Settings{
		NotificationsEnabled: true,
		DailyBriefingEnabled: true,
		DailyBriefingTime:    "07:30",
		WeeklyReviewEnabled:  true,
	}
}

// Store is a file-backed settings store. All methods are safe for concurrent use.
type Store struct {
	path    string
	mu      sync.Mutex
	current Settings
}

// Open loads settings from path. A missing or empty file yields Defaults().
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings %q: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(data, &s.current); err != nil {
		return nil, fmt.Errorf("decode settings %q: %w", path, err)
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to a copy of the settings and persists the result.
// The in-memory value only changes if the write succeeds.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// DeviceID returns the install's device id, generating and saving one on first use.
func (s *Store) DeviceID() (string, error) {
	if id := s.Get().DeviceID; id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := s.Update(func(st *Settings) {
		if st.DeviceID == "" {
			st.DeviceID = id
		}
	}); err != nil {
		return "", err
	}
	return s.Get().DeviceID, nil
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) write(st Settings) error {
	data, err := yaml.Marshal(&st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tempo-settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// KeychainMigrated reports whether the legacy token migration already ran.
func (s *Store) KeychainMigrated() bool {
	return s.Get().KeychainMigrated
}

// MarkKeychainMigrated records that the legacy token migration ran.
func (s *Store) MarkKeychainMigrated() error {
	return s.Update(func(st *Settings) { st.KeychainMigrated = true })
}

// RecordSignIn stores the time of the last successful sign-in.
func (s *Store) RecordSignIn(at time.Time) error {
	return s.Update(func(st *Settings) {
		t := at.UTC()
		st.LastSignIn = &t
	})
}
