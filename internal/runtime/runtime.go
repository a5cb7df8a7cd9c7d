package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/designs/listingmock/internal/artifact"
	"github.com/szaher/designs/listingmock/internal/auth"
	"github.com/szaher/designs/listingmock/internal/fixtures"
	"github.com/szaher/designs/listingmock/internal/rules"
	"github.com/szaher/designs/listingmock/internal/session"
	"github.com/szaher/designs/listingmock/internal/telemetry"
)

const teardownTimeout = 30 * time.Second

// Runtime manages the full lifecycle of the mock backend: it owns the
// artifact store, and tears it down exactly once on shutdown.
type Runtime struct {
	config   *Config
	server   *Server
	store    artifact.Store
	fixtures *fixtures.Holder
	logger   *slog.Logger
	closers  []func() error

	ready chan struct{}
	addr  net.Addr

	mu          sync.Mutex
	stopped     bool
	cancelWatch context.CancelFunc

	teardownOnce sync.Once
	teardownErr  error
}

// Options configures the runtime.
type Options struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics

	// Store replaces the store built from the config.
	Store artifact.Store

	// SessionStore replaces the session backend built from the config.
	SessionStore session.Store
}

// New builds a runtime from config. Any upload storage created here is
// released again if a later step fails.
func New(ctx context.Context, config *Config, opts Options) (_ *Runtime, err error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fx := fixtures.Default()
	if config.FixturesFile != "" {
		fx, err = fixtures.Load(config.FixturesFile)
		if err != nil {
			return nil, err
		}
	}
	itemRules, err := rules.CompileAll(config.ItemRules)
	if err != nil {
		return nil, fmt.Errorf("item rules: %w", err)
	}

	rt := &Runtime{
		config:   config,
		fixtures: fixtures.NewHolder(fx),
		logger:   logger,
		ready:    make(chan struct{}),
	}

	rt.store = opts.Store
	if rt.store == nil {
		rt.store, err = newStore(ctx, config)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			_ = rt.teardown(context.WithoutCancel(ctx))
		}
	}()

	serverOpts := []ServerOption{
		WithLogger(logger),
		WithItemRules(itemRules),
		WithCORSOrigins(config.CORSOrigins),
	}
	if opts.Metrics != nil {
		serverOpts = append(serverOpts, WithMetrics(opts.Metrics))
	}
	if config.UploadRate.Enabled() {
		serverOpts = append(serverOpts, WithUploadLimiter(auth.NewRateLimiter(config.UploadRate)))
	}
	if config.StrictOrder {
		sessions := opts.SessionStore
		if sessions == nil {
			sessions, err = rt.newSessionStore(ctx)
			if err != nil {
				return nil, err
			}
		}
		serverOpts = append(serverOpts, WithTracker(session.NewTracker(sessions)))
	}

	rt.server = NewServer(config, rt.store, rt.fixtures, serverOpts...)
	return rt, nil
}

func newStore(ctx context.Context, config *Config) (artifact.Store, error) {
	opts := []artifact.Option{artifact.WithMaxBytes(config.MaxUploadBytes)}
	if config.ArtifactBackend == BackendS3 {
		store, err := artifact.NewS3Store(ctx, config.S3, config.TempPrefix, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := artifact.NewLocalStore(config.TempDir, config.TempPrefix, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (rt *Runtime) newSessionStore(ctx context.Context) (session.Store, error) {
	if rt.config.SessionBackend != BackendRedis {
		return session.NewMemoryStore(rt.config.SessionTTL), nil
	}
	client, closeFn, err := session.DialRedis(ctx, rt.config.RedisURL)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeFn)
	return session.NewRedisStore(client, session.WithTTL(rt.config.SessionTTL)), nil
}

// Start listens on the configured address and serves until Shutdown.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.startWatch(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", rt.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rt.config.Addr, err)
	}
	rt.addr = ln.Addr()
	close(rt.ready)
	return rt.server.Serve(ln)
}

func (rt *Runtime) startWatch(ctx context.Context) error {
	if rt.config.FixturesFile == "" || !rt.config.WatchFixtures {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := rt.fixtures.Watch(watchCtx, rt.config.FixturesFile, rt.logger); err != nil {
		cancel()
		return err
	}
	rt.cancelWatch = cancel
	return nil
}

// Ready is closed once Start is accepting connections.
func (rt *Runtime) Ready() <-chan struct{} {
	return rt.ready
}

// Addr returns the listening address; valid after Ready is closed.
func (rt *Runtime) Addr() string {
	if rt.addr == nil {
		return ""
	}
	return rt.addr.String()
}

// Handler returns the HTTP handler without starting a listener.
func (rt *Runtime) Handler() http.Handler {
	return rt.server.Handler()
}

// Store returns the artifact store.
func (rt *Runtime) Store() artifact.Store {
	return rt.store
}

// Shutdown drains in-flight requests for at most the configured grace
// period and then removes every stored artifact. Teardown runs once even
// if Shutdown is called again.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.logger.Info("shutting down", "grace", rt.config.ShutdownGrace.String())

	drainCtx, cancel := context.WithTimeout(ctx, rt.config.ShutdownGrace)
	defer cancel()
	drainErr := rt.server.Shutdown(drainCtx)
	if drainErr != nil {
		rt.logger.Warn("drain incomplete", "error", drainErr)
	}
	rt.mu.Lock()
	rt.stopped = true
	if rt.cancelWatch != nil {
		rt.cancelWatch()
	}
	rt.mu.Unlock()

	teardownErr := rt.teardown(context.WithoutCancel(ctx))
	if errors.Is(drainErr, context.DeadlineExceeded) {
		drainErr = nil
	}
	return errors.Join(drainErr, teardownErr)
}

func (rt *Runtime) teardown(ctx context.Context) error {
	rt.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, teardownTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			count := rt.store.Count()
			if err := rt.store.Teardown(gctx); err != nil {
				return fmt.Errorf("teardown %s store: %w", rt.store.Backend(), err)
			}
			rt.logger.Info("uploads removed", "backend", rt.store.Backend(), "artifacts", count)
			return nil
		})
		for _, closeFn := range rt.closers {
			g.Go(closeFn)
		}
		rt.teardownErr = g.Wait()
	})
	return rt.teardownErr
}
