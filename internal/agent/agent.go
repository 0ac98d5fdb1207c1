// Package agent implements AgentLoop (spec §4.9): the top-level event loop
// that wires AccountStore, TokenCache, and OIDCFlows behind IpcServer, and
// owns signal handling and clean shutdown.
package agent

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/fetch"
	"github.com/oidc-agent/agent/internal/flows"
	"github.com/oidc-agent/agent/internal/ipc"
	"github.com/oidc-agent/agent/internal/logger"
	"github.com/oidc-agent/agent/internal/store"
	"github.com/oidc-agent/agent/internal/tokencache"
)

// sweepInterval is how often the store's lifetime sweeper runs (spec §4.9
// "a monotonic timer heap"; a fixed-interval ticker is the cooperative
// single-threaded equivalent since no account is likely to carry a
// sub-second lifetime in practice).
const sweepInterval = time.Second

// Agent is AgentLoop.
type Agent struct {
	ConfigDir string

	Store *store.Store
	Cache *tokencache.Cache
	Flows *flows.Flows
	ipc   *ipc.Server

	cancel context.CancelFunc
}

// New wires the core components together: TokenCache sits above AccountStore
// and OIDCFlows in the data-flow spec §2 describes ("AgentStore looks up the
// account -> TokenCache serves or triggers OIDCFlows").
func New(fetcher fetch.HTTPFetcher, configDir string) *Agent {
	cache := tokencache.New()
	st := store.New(cache)
	fl := flows.New(fetcher, st)
	return &Agent{ConfigDir: configDir, Store: st, Cache: cache, Flows: fl}
}

// Run binds the IPC socket, installs signal handling, and serves until
// SIGTERM/SIGINT or ctx is cancelled (spec §4.9). It returns the process
// exit code per spec §6 (0 normal shutdown, 1 fatal startup error).
func (a *Agent) Run(ctx context.Context) int {
	sockPath, err := config.SocketPath()
	if err != nil {
		logger.Errorf("startup: %v", err)
		return 1
	}

	srv, err := ipc.Listen(sockPath)
	if err != nil {
		logger.Errorf("startup: %v", err)
		return 1
	}
	a.ipc = srv
	a.registerHandlers()
	a.loadPersistedAccounts()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	signal.Ignore(syscall.SIGHUP) // spec §4.9 "SIGHUP is ignored"
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(runCtx); err != nil {
			logger.Errorf("ipc serve: %v", err)
		}
	}()

	sweeper := time.NewTicker(sweepInterval)
	defer sweeper.Stop()

loop:
	for {
		select {
		case <-sigCh:
			logger.Infof("received shutdown signal")
			break loop
		case <-runCtx.Done():
			break loop
		case <-sweeper.C:
			a.Store.Sweep()
		}
	}

	a.shutdown(srv)
	wg.Wait()
	return 0
}

// shutdown implements spec §4.9's sequence: stop accepting, cancel all
// in-flight flows, wipe the store, close the socket.
func (a *Agent) shutdown(srv *ipc.Server) {
	a.cancel()
	a.Flows.CancelAll()
	_ = a.Store.RemoveAll()
	_ = srv.Close()
}

// requestShutdown is invoked by the "term" verb handler; it schedules
// shutdown slightly after the current response is flushed so the caller
// sees the success reply before the socket closes.
func (a *Agent) requestShutdown() {
	go func() {
		time.Sleep(50 * time.Millisecond)
		if a.cancel != nil {
			a.cancel()
		}
	}()
}

// loadPersistedAccounts decrypts every on-disk account file using
// OIDC_ENCRYPTION_PW and loads it into the store, if that variable is set
// (spec §6 "OIDC_ENCRYPTION_PW (optional, unlocks non-interactively)").
// Without it, accounts stay on disk until an explicit "add" supplies a
// password, matching the encrypted-at-rest guarantee: nothing decrypts
// automatically unless the operator has opted in.
func (a *Agent) loadPersistedAccounts() {
	pw := config.EncryptionPassword()
	if pw == nil {
		return
	}
	defer pw.Release()

	names, err := config.ListAccountFiles(a.ConfigDir)
	if err != nil {
		logger.Warnf("list persisted accounts: %v", err)
		return
	}
	for _, name := range names {
		acct, err := config.LoadAccount(a.ConfigDir, name, pw)
		if err != nil {
			logger.Warnf("load persisted account %q: %v", name, err)
			continue
		}
		if err := a.Store.Add(acct, 0, false); err != nil {
			logger.Warnf("add persisted account %q: %v", name, err)
		}
	}
}
