package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vyrti/vuio/config"
	"github.com/vyrti/vuio/database"
	"github.com/vyrti/vuio/platform"
	"github.com/vyrti/vuio/ssdp"
	"github.com/vyrti/vuio/state"
	"github.com/vyrti/vuio/watcher"
	"github.com/vyrti/vuio/web"
)

// driftScanInterval is how often the index is reconciled by full scan when
// the filesystem watcher is unavailable or degraded.
const driftScanInterval = 5 * time.Minute

// shutdownBackupsKept bounds the rotation of shutdown backups.
const shutdownBackupsKept = 5

func runServer(ctx context.Context, mediaDir string) error {
	log := logrus.WithField("component", "main")
	log.Info("starting VuIO server")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(mediaDir)
	if err != nil {
		return err
	}

	pi, err := platform.Detect(ctx)
	if err != nil {
		return fmt.Errorf("platform detection: %w", err)
	}
	log.Debug(pi.Diagnostics())

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("closing database")
		}
	}()

	st := state.New(cfg, db, pi)

	if _, err := watcher.InitialSync(ctx, db, cfg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial media sync: %w", err)
	}
	if err := st.RefreshMedia(); err != nil {
		return fmt.Errorf("load media cache: %w", err)
	}
	if stats, err := db.GetStats(); err == nil {
		log.WithFields(logrus.Fields{
			"files": stats.FileCount, "bytes": stats.TotalSize,
		}).Info("media index ready")
	}

	mgr, err := config.NewManager(cfgPath, cfg)
	if err != nil {
		log.WithError(err).Warn("configuration hot reload unavailable")
		mgr = nil
	} else {
		defer mgr.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	// Watcher and integrator. Watcher bring-up failure is a degradation,
	// not a fatal error: the drift scan keeps the index converging.
	onChange := func() {
		st.BumpUpdateID()
		if err := st.RefreshMedia(); err != nil {
			log.WithError(err).Warn("refreshing media cache")
		}
	}
	watcherHealthy := startWatcher(ctx, g, st, onChange)
	g.Go(func() error {
		runDriftScans(ctx, st, watcherHealthy)
		return nil
	})

	if mgr != nil {
		sub := mgr.Subscribe()
		g.Go(func() error {
			handleConfigChanges(ctx, sub, st, onChange)
			return nil
		})
	}

	// SSDP. Discovery failure leaves the server reachable by direct URL,
	// so it degrades rather than aborting startup.
	engine, err := startSSDP(ctx, st)
	if err != nil {
		log.WithError(err).Error("SSDP unavailable, continuing without discovery")
	} else {
		defer engine.Stop()
	}

	// HTTP.
	srv := web.New(st)
	addr := net.JoinHostPort(cfg.Server.Interface, fmt.Sprint(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	g.Go(func() error { return srv.Serve(ctx, ln) })

	log.WithField("port", cfg.Server.Port).Info("VuIO server running")
	err = g.Wait()

	shutdownBackup(st)
	log.Info("shutdown complete")
	return err
}

// loadConfig resolves the effective configuration from the file and the
// command line overrides.
func loadConfig(mediaDir string) (*config.AppConfig, string, error) {
	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		return nil, "", err
	}

	if mediaDir != "" {
		abs, err := filepath.Abs(mediaDir)
		if err != nil {
			return nil, "", err
		}
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			return nil, "", fmt.Errorf("media path is not a directory: %s", abs)
		}
		cfg.Media.Directories = []config.MonitoredDirectory{{Path: abs, Recursive: true}}
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagName != "" {
		cfg.Server.Name = flagName
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

func openDatabase(cfg *config.AppConfig) (*database.Database, error) {
	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	report, err := db.HealthCheckAndRepair()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, issue := range report.Issues {
		entry := logrus.WithField("component", "database")
		switch issue.Severity {
		case database.SeverityCritical, database.SeverityError:
			entry.WithField("action", issue.SuggestedAction).Error(issue.Description)
		case database.SeverityWarning:
			entry.Warn(issue.Description)
		default:
			entry.Info(issue.Description)
		}
	}

	if cfg.Database.VacuumOnStartup {
		if err := db.Vacuum(); err != nil {
			logrus.WithError(err).Warn("startup vacuum failed")
		}
	}
	return db, nil
}

// startWatcher arms the filesystem watcher and integrator. The returned
// channel reports false once when the watcher could not be started, which
// switches the drift scan to its aggressive cadence.
func startWatcher(ctx context.Context, g *errgroup.Group, st *state.AppState, onChange func()) <-chan bool {
	healthy := make(chan bool, 1)
	cfg := st.Config()
	if !cfg.Media.WatchForChanges {
		healthy <- false
		return healthy
	}

	w, err := watcher.New(cfg.Media.SupportedExtensions)
	if err != nil {
		logrus.WithError(err).Warn("filesystem watcher unavailable, falling back to periodic scans")
		healthy <- false
		return healthy
	}
	armed := 0
	for _, dir := range cfg.Media.Directories {
		if err := w.Watch(dir.Path, dir.Recursive); err != nil {
			logrus.WithError(err).WithField("dir", dir.Path).Warn("cannot watch media directory")
			continue
		}
		armed++
	}
	if armed == 0 {
		w.Stop()
		healthy <- false
		return healthy
	}
	healthy <- true

	in := watcher.NewIntegrator(st.DB, onChange)
	g.Go(func() error {
		in.Run(ctx, w.Events())
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		w.Stop()
		in.Wait()
		return nil
	})
	return healthy
}

// runDriftScans periodically reconciles the index by full scan. With a
// healthy watcher the cadence is relaxed; without one it is the only
// source of index updates.
func runDriftScans(ctx context.Context, st *state.AppState, watcherHealthy <-chan bool) {
	interval := driftScanInterval
	select {
	case ok := <-watcherHealthy:
		if ok {
			// Watcher carries the load; the drift scan is a backstop
			// against dropped events.
			interval = time.Hour
		}
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := watcher.InitialSync(ctx, st.DB, st.Config())
			if err != nil {
				if ctx.Err() == nil {
					logrus.WithError(err).Warn("drift scan failed")
				}
				continue
			}
			if changed == 0 {
				continue
			}
			if err := st.RefreshMedia(); err != nil {
				logrus.WithError(err).Warn("refreshing media cache")
				continue
			}
			st.BumpUpdateID()
		}
	}
}

// handleConfigChanges applies hot reloads. Media changes take effect live;
// server and network changes need a restart and say so.
func handleConfigChanges(ctx context.Context, sub <-chan config.ChangeEvent, st *state.AppState, onChange func()) {
	log := logrus.WithField("component", "config")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			st.SetConfig(ev.Config)
			for _, kind := range ev.Kinds {
				switch kind {
				case config.ChangeMedia:
					log.Info("media configuration changed, rescanning")
					changed, err := watcher.InitialSync(ctx, st.DB, ev.Config)
					if err != nil {
						log.WithError(err).Warn("rescan after config change failed")
						continue
					}
					if changed > 0 {
						onChange()
					}
				case config.ChangeServer, config.ChangeNetwork:
					log.Warn("server/network configuration changed; restart to apply")
				case config.ChangeDatabase:
					log.Warn("database configuration changed; restart to apply")
				}
			}
		}
	}
}

func startSSDP(ctx context.Context, st *state.AppState) (*ssdp.Engine, error) {
	cfg := st.Config()

	var ifi *net.Interface
	hostIP := cfg.Server.Interface
	primary, ok := platform.ChoosePrimaryInterface(st.Platform.Interfaces)
	if ok {
		if netIf, err := net.InterfaceByName(primary.Name); err == nil {
			ifi = netIf
		}
		if ip := net.ParseIP(hostIP); ip == nil || ip.IsUnspecified() {
			hostIP = primary.IPAddress.String()
		}
	} else {
		logrus.Warn("no usable multicast interface, SSDP runs in unicast mode")
		if ip := net.ParseIP(hostIP); ip == nil || ip.IsUnspecified() {
			hostIP = "127.0.0.1"
		}
	}

	if name := cfg.Network.InterfaceSelection; name != "" && name != "auto" && name != "all" {
		if netIf, err := net.InterfaceByName(name); err == nil {
			ifi = netIf
		} else {
			logrus.WithField("interface", name).Warn("configured interface not found, using automatic selection")
		}
	}

	engine := ssdp.New(ssdp.Config{
		UUID:             cfg.Server.UUID,
		FriendlyName:     cfg.Server.Name,
		HostIP:           hostIP,
		HTTPPort:         cfg.Server.Port,
		SSDPPort:         cfg.Network.SSDPPort,
		AnnounceInterval: time.Duration(cfg.Network.AnnounceIntervalSeconds) * time.Second,
		MulticastTTL:     cfg.Network.MulticastTTL,
		ServerToken:      st.Platform.ServerToken(),
	}, ifi)
	if err := engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start SSDP: %w", err)
	}
	return engine, nil
}

// shutdownBackup snapshots the store on the way out and rotates old
// backups.
func shutdownBackup(st *state.AppState) {
	cfg := st.Config()
	if !cfg.Database.BackupEnabled {
		return
	}
	log := logrus.WithField("component", "database")

	dir := cfg.BackupDir()
	dest := filepath.Join(dir, fmt.Sprintf("vuio-%s.db.bak", time.Now().Format("20060102-150405")))
	if err := st.DB.Backup(dest); err != nil {
		log.WithError(err).Warn("shutdown backup failed")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".bak" {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)
	for len(backups) > shutdownBackupsKept {
		if err := os.Remove(filepath.Join(dir, backups[0])); err != nil {
			log.WithError(err).Warn("removing old backup")
		}
		backups = backups[1:]
	}
}
