// Package state holds what every long-lived task shares: the config
// snapshot, the in-memory media cache the Browse handler reads, the
// content update counter surfaced as UPnP UpdateID, and the detected
// platform description.
package state

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/vyrti/vuio/config"
	"github.com/vyrti/vuio/database"
	"github.com/vyrti/vuio/platform"
)

// AppState is shared by the SSDP engine, the HTTP server, the scanner and
// the watcher integrator. The media cache is guarded by an RWMutex so
// Browse snapshots never block each other; writers are the integrator,
// startup reconciliation and the periodic or config-triggered rescans.
// No I/O happens under the lock.
type AppState struct {
	DB       *database.Database
	Platform *platform.Info

	configMu sync.RWMutex
	cfg      *config.AppConfig

	cacheMu sync.RWMutex
	media   []database.MediaFile

	// updateID starts at 1; clients treat any increase as a change
	// signal, so wraparound on uint32 is harmless.
	updateID atomic.Uint32
}

// New builds the state with the update counter reset to 1.
func New(cfg *config.AppConfig, db *database.Database, pi *platform.Info) *AppState {
	s := &AppState{DB: db, Platform: pi, cfg: cfg}
	s.updateID.Store(1)
	return s
}

// Config returns the current configuration snapshot.
func (s *AppState) Config() *config.AppConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.cfg
}

// SetConfig swaps the configuration snapshot after a hot reload.
func (s *AppState) SetConfig(cfg *config.AppConfig) {
	s.configMu.Lock()
	s.cfg = cfg
	s.configMu.Unlock()
}

// MediaSnapshot returns the cached media list. The slice is shared and
// must not be mutated; every cache write replaces it wholesale.
func (s *AppState) MediaSnapshot() []database.MediaFile {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.media
}

// MediaByID finds one cached item by id.
func (s *AppState) MediaByID(id int64) (database.MediaFile, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	for _, f := range s.media {
		if f.ID == id {
			return f, true
		}
	}
	return database.MediaFile{}, false
}

// SetMedia replaces the cache wholesale, typically after startup
// reconciliation or an integrator batch.
func (s *AppState) SetMedia(files []database.MediaFile) {
	s.cacheMu.Lock()
	s.media = files
	s.cacheMu.Unlock()
}

// RefreshMedia reloads the cache from the store.
func (s *AppState) RefreshMedia() error {
	files, err := s.DB.GetAll()
	if err != nil {
		return err
	}
	s.SetMedia(files)
	return nil
}

// UpdateID returns the current content update counter value.
func (s *AppState) UpdateID() uint32 {
	return s.updateID.Load()
}

// BumpUpdateID increments the counter once per observed logical change and
// returns the new value. Relaxed ordering is fine: monotonicity is all
// clients rely on.
func (s *AppState) BumpUpdateID() uint32 {
	id := s.updateID.Add(1)
	logrus.WithField("update_id", id).Debug("content update counter bumped")
	return id
}
