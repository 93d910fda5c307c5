package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/middleware"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/secretkey"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand runs the demo HTTP server.
type ServeCommand struct {
	*BaseCommand

	flagAddr string
}

func (c *ServeCommand) Synopsis() string {
	return "Run the demo HTTP server"
}

func (c *ServeCommand) Help() string {
	return strings.TrimSpace(`
Usage: secretsrefresh serve [options]

  Serves one endpoint per configured database (/<name>/) that queries the
  demo table, /secret-key/ returning the current signing key, and /metrics.
  Requests that fail because a database rejected cached credentials are
  retried once after the secret is refreshed. SIGHUP clears the secrets
  cache.

Options:

` + c.Flags().FlagUsages())
}

// Flags returns the serve flag set.
func (c *ServeCommand) Flags() *pflag.FlagSet {
	fs := c.flagSet("serve")
	fs.StringVar(&c.flagAddr, "addr", "", "Listen address, overriding server.addr.")
	return fs
}

func (c *ServeCommand) Run(args []string) int {
	if !c.parseFlags(c.Flags(), args) {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.serve(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("Error running server: %s", err))
		return 1
	}
	return 0
}

func (c *ServeCommand) serve(ctx context.Context) error {
	reg, m := metrics.NewRegistry()
	c.metrics = m
	logger := c.Logger()

	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	client, err := c.secretsClient(ctx, cfg)
	if err != nil {
		return err
	}
	if err := metrics.RegisterCacheSize(reg, client.CacheSize); err != nil {
		return err
	}

	deps := serveDeps{
		databases:   make(map[string]dbProbe, len(cfg.Databases)),
		invalidator: client,
		secretIDs:   cfg.DatabaseSecretIDs(),
		maxBody:     cfg.Server.MaxBodyBytes,
		logger:      logger,
		metrics:     m,
		registry:    reg,
	}

	for _, name := range cfg.DatabaseNames() {
		// The middleware owns the retry, so the connector must not retry too.
		pool, err := c.openDatabase(client, cfg.Databases[name], dbcreds.WithConnectRetry(false))
		if err != nil {
			return err
		}
		defer pool.Close()
		deps.databases[name] = sqlProbe(pool)
	}

	if cfg.SecretKey != nil {
		keys, err := secretkey.New(client, *cfg.SecretKey,
			secretkey.WithLogger(logger),
			secretkey.WithMetrics(m))
		if err != nil {
			return err
		}
		if err := keys.Load(ctx); err != nil {
			return err
		}
		deps.keys = keys
	}

	addr := cfg.Server.Addr
	if c.flagAddr != "" {
		addr = c.flagAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServeHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go clearOnSignal(ctx, hup, client, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "databases", cfg.DatabaseNames())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type cacheClearer interface {
	ClearCache()
}

// clearOnSignal empties the secrets cache each time sig fires, so an
// operator can force every secret to be re-read without a restart.
func clearOnSignal(ctx context.Context, sig <-chan os.Signal, c cacheClearer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			logger.Info("clearing secrets cache on signal")
			c.ClearCache()
		}
	}
}

// signingKeys is satisfied by *secretkey.Provider.
type signingKeys interface {
	Current() string
	MaybeRefresh(ctx context.Context) bool
}

type serveDeps struct {
	databases   map[string]dbProbe
	keys        signingKeys
	invalidator middleware.Invalidator
	secretIDs   []string
	maxBody     int64
	logger      *slog.Logger
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
}

func newServeHandler(d serveDeps) http.Handler {
	mux := http.NewServeMux()
	for name, probe := range d.databases {
		mux.Handle("/"+name+"/", dbHandler(probe))
	}
	if d.keys != nil {
		mux.Handle("/secret-key/", secretKeyHandler(d.keys))
	}
	if d.registry != nil {
		mux.Handle("/metrics", metrics.Handler(d.registry))
	}

	retryOpts := []middleware.Option{
		middleware.WithSecretIDs(d.secretIDs...),
		middleware.WithLogger(d.logger),
		middleware.WithMetrics(d.metrics),
	}
	if d.maxBody > 0 {
		retryOpts = append(retryOpts, middleware.WithMaxBodyBytes(d.maxBody))
	}

	var h http.Handler = mux
	h = middleware.RetryOnAuthFailure(d.invalidator, retryOpts...)(h)
	if d.keys != nil {
		h = middleware.SecretKeyRefresh(d.keys, d.logger)(h)
	}
	h = middleware.Logger(d.logger)(h)
	return middleware.RequestID(h)
}

func dbHandler(probe dbProbe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			middleware.Report(r.Context(), err)
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "Successfully hit DB")
	})
}

func secretKeyHandler(keys signingKeys) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, keys.Current())
	})
}
