// Package app wires the scribe's subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the input sources until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject stdio, metrics and extra health checks via functional
// options. Providers are always supplied by the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/health"
	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/pipeline"
	"github.com/MrWong99/medscribe/internal/present"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/internal/transcript/phonetic"
	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// drainTimeout bounds how long Run waits for the active session and HTTP
// connections once its context ends.
const drainTimeout = 10 * time.Second

// Providers holds the three external collaborators. Populated by main.go via
// the config registry.
type Providers struct {
	STT   stt.Provider
	LLM   llm.Provider
	Audio audio.Device
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	stdin  io.Reader
	stdout io.Writer

	logLevel  *slog.LevelVar
	metrics   *observe.Metrics
	telemetry *observe.Telemetry
	watcher   *config.Watcher
	checkers  []health.Checker

	corrector  *transcript.Corrector
	sttBreaker *resilience.CircuitBreaker
	llmBreaker *resilience.CircuitBreaker
	orch       *pipeline.Orchestrator
	board      *present.Board
	hub        *present.Hub
	console    *present.Console
	server     *http.Server
	listener   net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStdio sets the console streams. Default: os.Stdin and os.Stdout.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics injects pipeline metrics. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves t's Prometheus handler on /metrics when metrics are
// enabled, and shuts t down with the app.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithWatcher polls w during Run. Its callback should call [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithHealthCheckers adds readiness checks next to the circuit breakers.
func WithHealthCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithListener serves HTTP on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithCloser registers fn to run during Shutdown, after the orchestrator and
// the HTTP server have stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.Audio == nil {
		return nil, errors.New("app: stt, llm and audio providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.corrector = transcript.NewCorrector(cfg.Vocabulary.Terms, phoneticOptions(cfg.Vocabulary)...)
	a.initBreakers()
	a.initPipeline()
	if err := a.initHTTP(); err != nil {
		return nil, err
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBreakers() {
	onChange := func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state change", "service", name, "from", from.String(), "to", to.String())
	}
	b := a.cfg.Pipeline.Breaker
	a.sttBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "stt:" + a.cfg.Providers.STT.Name,
		MaxFailures:   b.MaxFailures,
		ResetTimeout:  b.ResetTimeout,
		OnStateChange: onChange,
	})
	a.llmBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "llm:" + a.cfg.Providers.LLM.Name,
		MaxFailures:   b.MaxFailures,
		ResetTimeout:  b.ResetTimeout,
		OnStateChange: onChange,
	})
}

// initPipeline builds the sinks and the orchestrator. The hub needs the
// orchestrator as its controller and the orchestrator needs the hub as a
// sink, so the sink list is filled in after both exist.
func (a *App) initPipeline() {
	var sinks pipeline.Sinks
	if a.cfg.Console.Enabled {
		a.console = present.NewConsole(a.stdout)
		sinks = append(sinks, a.console)
	}
	a.board = present.NewBoard()

	p := a.cfg.Pipeline
	a.orch = pipeline.New(a.providers.Audio, a.providers.STT, note.NewLLMSummarizer(a.providers.LLM),
		pipeline.WithSink(pipeline.SinkFunc(func(e pipeline.Event) { sinks.Publish(e) })),
		pipeline.WithPollInterval(p.PollInterval),
		pipeline.WithTranscribeTimeout(p.TranscribeTimeout),
		pipeline.WithSummarizeTimeout(p.SummarizeTimeout),
		pipeline.WithLanguage(p.Language),
		pipeline.WithCorrector(a.corrector),
		pipeline.WithBreakers(a.sttBreaker, a.llmBreaker),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithProviderNames(a.cfg.Providers.STT.Name, a.cfg.Providers.LLM.Name),
	)

	if a.cfg.Server.ListenAddr != "" || a.listener != nil {
		a.hub = present.NewHub(a.orch, a.board, present.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))
		sinks = append(sinks, a.hub)
	} else {
		sinks = append(sinks, a.board)
	}
}

func (a *App) initHTTP() error {
	if a.hub == nil {
		return nil
	}
	mux := http.NewServeMux()
	present.NewAPI(a.orch, a.board, a.hub).Register(mux)

	checkers := append([]health.Checker{
		{Name: "stt", Check: a.sttBreaker.Check},
		{Name: "llm", Check: a.llmBreaker.Check},
	}, a.checkers...)
	health.New(checkers...).Register(mux)

	if a.cfg.Telemetry.Metrics {
		if a.telemetry == nil {
			return errors.New("app: telemetry.metrics is enabled but no telemetry provider was given")
		}
		mux.Handle("GET /metrics", a.telemetry.Handler())
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func phoneticOptions(v config.VocabularyConfig) []phonetic.Option {
	return []phonetic.Option{
		phonetic.WithPhoneticThreshold(v.PhoneticThreshold),
		phonetic.WithFuzzyThreshold(v.FuzzyThreshold),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session state machine.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Board returns the latest presented values.
func (a *App) Board() *present.Board { return a.board }

// Corrector returns the vocabulary corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API, the console and the config watcher until ctx is
// cancelled, then drains the active session and the HTTP server. It returns
// ctx's error on a normal stop, or the first serving error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", a.server.Addr)
			if err != nil {
				return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
			}
		}
		slog.Info("http api listening", "addr", ln.Addr().String())
		g.Go(func() error {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: serve http: %w", err)
		})
	}

	if a.console != nil {
		a.console.Greet()
		g.Go(func() error {
			err := present.ReadCommands(gctx, a.stdin, a.orch, a.stdout)
			if err != nil {
				slog.Warn("console input failed", "err", err)
			} else if gctx.Err() == nil {
				slog.Info("console input closed")
			}
			return nil
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.drain()
		return nil
	})

	slog.Info("app running", "http", a.server != nil, "console", a.console != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// drain ends the active session (its failure events still reach the
// clients), then disconnects WebSocket clients and stops the HTTP server.
func (a *App) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := a.orch.Close(ctx); err != nil {
		slog.Warn("session did not finish before shutdown", "err", err)
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a config change: the log level
// and the vocabulary. Other changes are logged and need a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		a.corrector.SetVocabulary(d.NewVocabulary.Terms, phoneticOptions(d.NewVocabulary)...)
		slog.Info("vocabulary reloaded", "terms", len(d.NewVocabulary.Terms))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to a slog level. Unknown levels are Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It is safe to call after Run returned
// and also when Run never ran. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.orch.Close(ctx); err != nil {
			shutdownErr = err
			return
		}
		if a.hub != nil {
			a.hub.Close()
		}

		closers := a.closers
		if a.telemetry != nil {
			closers = append(closers, func() error { return a.telemetry.Shutdown(ctx) })
		}
		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
