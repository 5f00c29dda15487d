// Package app wires the console together: config, signaling, call
// manager, presence, storage, and the local HTTP surface.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clearline/agentvoice/internal/call"
	"github.com/clearline/agentvoice/internal/config"
	"github.com/clearline/agentvoice/internal/httpapi"
	"github.com/clearline/agentvoice/internal/media"
	"github.com/clearline/agentvoice/internal/metrics"
	"github.com/clearline/agentvoice/internal/presence"
	"github.com/clearline/agentvoice/internal/signal"
	"github.com/clearline/agentvoice/internal/state"
	"github.com/clearline/agentvoice/internal/storage"
	"github.com/clearline/agentvoice/internal/util"
)

type Options struct {
	// BaseDir anchors relative paths from the config (data dir).
	BaseDir string
	CfgPath string
	Cfg     config.Config
}

// Run starts the console and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	dataDir := util.ResolvePath(opt.BaseDir, cfg.Paths.DataDir)
	db, err := storage.Open(dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	store := state.NewStore()

	engine := media.NewEngine(media.Config{
		STUNServers:       cfg.Media.STUNServers,
		CandidatePoolSize: uint8(cfg.Media.CandidatePool),
	})

	// The session stays authorized for the process lifetime; a future
	// logout action flips this and Connect becomes a no-op.
	var authorized atomic.Bool
	authorized.Store(true)

	sig := signal.New(signalURL(cfg.Signaling), authorized.Load)

	pres := presence.NewRegistry(sig, func(p presence.Snapshot) {
		store.SetPresence(p)
	})

	callMgr := call.NewManager(sig, engine, call.Options{
		Notifier: store,
		History:  db,
		OnChange: store.SetCall,
	})
	defer callMgr.Close()

	callMgr.Bind(sig)
	pres.Bind(sig)

	var everOpen atomic.Bool
	sig.OnStatus(func(st signal.Status) {
		store.SetStatus(st)
		switch st {
		case signal.StatusOpen:
			metrics.ConnectionUp.Set(1)
			if everOpen.Swap(true) {
				metrics.Reconnects.Inc()
			}
		case signal.StatusDisconnected, signal.StatusClosed:
			metrics.ConnectionUp.Set(0)
			callMgr.ConnectionLost()
			pres.Clear()
		}
	})

	stopWatch, err := watchConfig(opt.CfgPath, engine)
	if err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	mux := http.NewServeMux()
	httpapi.Register(mux, httpapi.Deps{
		Signal:   sig,
		Calls:    callMgr,
		Presence: pres,
		Store:    store,
		History:  db,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("APP: console API listening on http://%s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig.Connect()

	select {
	case err := <-errCh:
		sig.Disconnect()
		return err
	case <-ctx.Done():
	}

	log.Printf("APP: shutting down")
	sig.Disconnect()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	return nil
}

// signalURL appends the auth token, when configured, as a query parameter.
func signalURL(s config.Signaling) string {
	if s.Token == "" {
		return s.URL
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return s.URL
	}
	q := u.Query()
	q.Set("token", s.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// watchConfig hot-reloads media settings when the config file changes.
// Signaling and HTTP settings still require a restart.
func watchConfig(cfgPath string, engine *media.Engine) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	base := filepath.Base(cfgPath)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := config.Load(cfgPath)
				if err != nil {
					log.Printf("APP: config reload skipped: %v", err)
					continue
				}
				engine.SetConfig(media.Config{
					STUNServers:       cfg.Media.STUNServers,
					CandidatePoolSize: uint8(cfg.Media.CandidatePool),
				})
				log.Printf("APP: media config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("APP: config watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
