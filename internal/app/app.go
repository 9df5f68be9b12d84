// Package app wires all Sprout subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the interactive loop alongside the metrics
// listener, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithInput,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/oakmund/sprout/internal/companion"
	"github.com/oakmund/sprout/internal/config"
	"github.com/oakmund/sprout/internal/convo"
	"github.com/oakmund/sprout/internal/health"
	"github.com/oakmund/sprout/internal/store"
	"github.com/oakmund/sprout/internal/turn"
	"github.com/oakmund/sprout/pkg/engine"
)

// httpShutdownTimeout bounds graceful shutdown of the metrics listener.
const httpShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and drives the companion loop.
type App struct {
	cfg *config.Config
	eng engine.Engine

	// Subsystems — initialised in New, torn down in Shutdown.
	store store.Store
	orch  *turn.Orchestrator

	in  io.Reader
	out io.Writer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a state store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithInput reads keeper input from r instead of os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput writes companion output to w instead of os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates an App by wiring all subsystems together. The engine comes
// from main.go (built via the config registry, wrapped in a fallback chain
// when fallbacks are configured). Use Option functions to inject test
// doubles for any subsystem.
//
// New performs all initialisation synchronously: store construction, state
// recovery, and turn orchestrator assembly.
func New(ctx context.Context, cfg *config.Config, eng engine.Engine, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		eng: eng,
		in:  os.Stdin,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	if err := a.initOrchestrator(ctx); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	return a, nil
}

// initStore sets up the configured state store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Storage.Backend {
	case config.StorageFile:
		s, err := store.NewFileStore(a.cfg.Storage.Path, companion.NewState(a.cfg.Companion.BaseThreshold))
		if err != nil {
			return err
		}
		a.store = s
	case config.StoragePostgres:
		s, err := store.NewPostgresStore(ctx, a.cfg.Storage.PostgresDSN, companion.NewState(a.cfg.Companion.BaseThreshold))
		if err != nil {
			return err
		}
		a.store = s
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initOrchestrator recovers persisted state and assembles the turn loop.
func (a *App) initOrchestrator(ctx context.Context) error {
	initial, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load companion state: %w", err)
	}

	exp, err := companion.NewEngine(companion.Awards{
		Base:          a.cfg.Companion.BaseAward,
		Bonus:         a.cfg.Companion.BonusAward,
		BaseThreshold: a.cfg.Companion.BaseThreshold,
	}, companion.NewPrefixMatcher(a.cfg.Companion.TeachMarkers...))
	if err != nil {
		return fmt.Errorf("experience engine: %w", err)
	}

	ctxw, err := convo.New(convo.Config{
		Preamble:    a.cfg.Companion.Persona,
		TokenBudget: a.cfg.Engine.TokenBudget,
	})
	if err != nil {
		return fmt.Errorf("conversation context: %w", err)
	}

	orch, err := turn.New(turn.Config{
		Context:        ctxw,
		Experience:     exp,
		Store:          a.store,
		Engine:         a.eng,
		Initial:        initial,
		Fresh:          companion.NewState(a.cfg.Companion.BaseThreshold),
		MaxReplyTokens: a.cfg.Engine.MaxReplyTokens,
		Temperature:    a.cfg.Engine.Temperature,
	})
	if err != nil {
		return fmt.Errorf("turn orchestrator: %w", err)
	}
	a.orch = orch

	slog.Info("companion state recovered",
		"level", initial.Level,
		"xp", initial.XP,
		"transcript_len", len(initial.Transcript))
	return nil
}

// Run starts the interactive loop and the metrics listener, blocking until
// ctx is cancelled or the keeper exits. A clean "exit" returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		srv := a.newMetricsServer(addr)
		g.Go(func() error {
			slog.Info("metrics listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		// A finished session releases the metrics listener too.
		defer cancel()
		return a.interact(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newMetricsServer builds the HTTP server exposing /metrics, /healthz
// and /readyz.
func (a *App) newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	probes := []health.Probe{
		{Name: "engine", Fn: func(context.Context) error {
			if a.eng == nil {
				return errors.New("no engine configured")
			}
			return nil
		}},
	}
	if p, ok := a.store.(health.Pinger); ok {
		probes = append(probes, health.StoreProbe("store", p))
	}
	health.New(probes...).Register(mux)

	return &http.Server{Addr: addr, Handler: mux}
}

// interact runs the read-eval-print loop over a.in until EOF, "exit", or
// ctx cancellation.
func (a *App) interact(ctx context.Context) error {
	st := a.orch.State()
	fmt.Fprintf(a.out, "%s is listening (level %d, %d/%d xp). Type 'status', 'reset' or 'exit'.\n",
		a.cfg.Companion.Name, st.Level, st.XP, st.Threshold)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprint(a.out, "> ")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				fmt.Fprintln(a.out, "\nGoodbye.")
				return nil
			}
			done, err := a.handleLine(ctx, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			fmt.Fprint(a.out, "> ")
		}
	}
}

// handleLine dispatches one line of keeper input. It returns done=true when
// the keeper asked to exit.
func (a *App) handleLine(ctx context.Context, line string) (done bool, err error) {
	input := strings.TrimSpace(line)
	switch strings.ToLower(input) {
	case "":
		return false, nil
	case "exit", "quit":
		fmt.Fprintf(a.out, "%s waves goodbye.\n", a.cfg.Companion.Name)
		return true, nil
	case "status":
		a.printStatus()
		return false, nil
	case "reset":
		if err := a.orch.Reset(ctx); err != nil {
			fmt.Fprintf(a.out, "reset failed: %v\n", err)
			return false, nil
		}
		fmt.Fprintf(a.out, "%s has been reborn.\n", a.cfg.Companion.Name)
		return false, nil
	default:
		a.takeTurn(ctx, input)
		return false, nil
	}
}

// printStatus reports the companion's current progression.
func (a *App) printStatus() {
	st := a.orch.State()
	fmt.Fprintf(a.out, "%s — level %d, %d/%d xp, %d transcript messages\n",
		a.cfg.Companion.Name, st.Level, st.XP, st.Threshold, len(st.Transcript))
}

// takeTurn runs one conversational turn and prints the outcome. Turn
// failures leave the companion unchanged, so they are reported and the
// loop continues.
func (a *App) takeTurn(ctx context.Context, input string) {
	res, err := a.orch.Turn(ctx, input)
	if err != nil {
		if turn.Retryable(err) {
			fmt.Fprintf(a.out, "%s didn't hear you (engine unavailable). Nothing was lost — try again.\n",
				a.cfg.Companion.Name)
		} else {
			fmt.Fprintf(a.out, "turn failed: %v\n", err)
		}
		return
	}

	fmt.Fprintf(a.out, "%s: %s\n", a.cfg.Companion.Name, res.Reply)
	if res.Taught {
		fmt.Fprintf(a.out, "  (%s learned something new: +%d xp)\n", a.cfg.Companion.Name, res.Award)
	}
	for i := 0; i < res.LevelUps; i++ {
		fmt.Fprintf(a.out, "  *** %s grew to level %d! ***\n", a.cfg.Companion.Name, res.State.Level-res.LevelUps+i+1)
	}
}

// Orchestrator exposes the turn orchestrator, mainly for tests.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
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
