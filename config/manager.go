package config

import (
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ChangeKind tells subscribers which part of the configuration moved.
type ChangeKind int

const (
	// ChangeServer covers port, bind interface, name or UUID.
	ChangeServer ChangeKind = iota
	// ChangeNetwork covers the SSDP settings.
	ChangeNetwork
	// ChangeMedia covers directories, extension and watch settings.
	ChangeMedia
	// ChangeDatabase covers the store settings.
	ChangeDatabase
)

// ChangeEvent is sent on every accepted hot reload.
type ChangeEvent struct {
	Kinds  []ChangeKind
	Config *AppConfig
}

const reloadDebounce = 500 * time.Millisecond

// Manager watches the config file and delivers debounced, validated
// reloads to subscribers. Editors replace files with rename dances, so the
// watch covers the parent directory and filters by name.
type Manager struct {
	path    string
	watcher *fsnotify.Watcher
	log     *logrus.Entry

	mu      sync.Mutex
	current *AppConfig
	subs    []chan ChangeEvent
	done    chan struct{}
}

// NewManager starts watching path. The initial config must already be
// loaded; the manager only handles subsequent edits.
func NewManager(path string, initial *AppConfig) (*Manager, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	m := &Manager{
		path:    path,
		watcher: w,
		current: initial,
		done:    make(chan struct{}),
		log:     logrus.WithField("component", "config"),
	}
	go m.run()
	return m, nil
}

// Current returns the latest accepted configuration.
func (m *Manager) Current() *AppConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe returns a channel receiving future change events. The channel
// is buffered; a slow subscriber loses events, not the current state.
func (m *Manager) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Close stops the watch and closes all subscriber channels.
func (m *Manager) Close() error {
	close(m.done)
	err := m.watcher.Close()
	m.mu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.mu.Unlock()
	return err
}

func (m *Manager) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors emit bursts of writes per save.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("config watch error")
		case <-timerC:
			timer, timerC = nil, nil
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.log.WithError(err).Warn("ignoring invalid config reload")
		return
	}

	m.mu.Lock()
	old := m.current
	kinds := diffConfigs(old, cfg)
	if len(kinds) == 0 {
		m.mu.Unlock()
		return
	}
	m.current = cfg
	subs := make([]chan ChangeEvent, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.log.WithField("changes", len(kinds)).Info("configuration reloaded")
	ev := ChangeEvent{Kinds: kinds, Config: cfg}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn("dropping config change event for slow subscriber")
		}
	}
}

func diffConfigs(old, updated *AppConfig) []ChangeKind {
	var kinds []ChangeKind
	if !reflect.DeepEqual(old.Server, updated.Server) {
		kinds = append(kinds, ChangeServer)
	}
	if !reflect.DeepEqual(old.Network, updated.Network) {
		kinds = append(kinds, ChangeNetwork)
	}
	if !reflect.DeepEqual(old.Media, updated.Media) {
		kinds = append(kinds, ChangeMedia)
	}
	if !reflect.DeepEqual(old.Database, updated.Database) {
		kinds = append(kinds, ChangeDatabase)
	}
	return kinds
}
