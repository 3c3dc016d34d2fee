// Package app wires all voxloop subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the serving loops, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/internal/transport/ws"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/internal/voicecmd"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/memory/postgres"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	"github.com/voxloop/voxloop/pkg/provider/tts"
)

// tickInterval drives the coordinator's playback-expiry poll. Expiry lands
// within one interval of the deadline.
const tickInterval = 100 * time.Millisecond

// Providers holds one interface value per provider slot. The *Fallback slots
// may be nil; when set, the stage fails over to them behind a circuit
// breaker. Populated by main.go from the config.
type Providers struct {
	STT         stt.Provider
	STTFallback stt.Provider
	TTS         tts.Provider
	TTSFallback tts.Provider
	LLM         llm.Provider
	LLMFallback llm.Provider
	Embeddings  embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the voice session.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics     *observe.Metrics
	store       memory.Store
	pgStore     *postgres.Store
	coordinator *session.Coordinator
	transport   *ws.Server
	httpSrv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of connecting to PostgreSQL.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics sink instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. STT, TTS, and LLM are required; Embeddings and the
// fallback slots are optional.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers.STT == nil || providers.TTS == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: stt, tts, and llm providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	a.initSession()
	a.initHTTP()

	return a, nil
}

// initMemory connects the PostgreSQL exchange store, unless one was injected
// or no DSN is configured. Running without a store is allowed: the pipeline
// simply has no conversation history.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Warn("no memory store configured; conversation history disabled")
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		if a.providers.Embeddings != nil {
			dims = a.providers.Embeddings.Dimensions()
		} else {
			dims = 1536
		}
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.pgStore = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("memory store connected", "dimensions", dims)
	return nil
}

// failoverProviders wraps each configured stage in a circuit-breaker
// fallback group when its fallback slot is populated; otherwise the primary
// is used bare.
func (a *App) failoverProviders() (stt.Provider, tts.Provider, llm.Provider) {
	sttP := a.providers.STT
	if a.providers.STTFallback != nil {
		group := resilience.NewSTTFallback(sttP, a.cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(a.cfg.Providers.STTFallback.Name, a.providers.STTFallback)
		sttP = group
	}
	ttsP := a.providers.TTS
	if a.providers.TTSFallback != nil {
		group := resilience.NewTTSFallback(ttsP, a.cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		group.AddFallback(a.cfg.Providers.TTSFallback.Name, a.providers.TTSFallback)
		ttsP = group
	}
	llmP := a.providers.LLM
	if a.providers.LLMFallback != nil {
		group := resilience.NewLLMFallback(llmP, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(a.cfg.Providers.LLMFallback.Name, a.providers.LLMFallback)
		llmP = group
	}
	return sttP, ttsP, llmP
}

// initSession assembles the VAD detector, processing pipeline, session
// coordinator, and WebSocket transport.
func (a *App) initSession() {
	sttP, ttsP, llmP := a.failoverProviders()

	// Spoken command matcher.
	var cmdOpts []voicecmd.Option
	if a.cfg.Commands.Threshold != 0 {
		cmdOpts = append(cmdOpts, voicecmd.WithThreshold(a.cfg.Commands.Threshold))
	}
	if len(a.cfg.Commands.StopPhrases) > 0 {
		cmdOpts = append(cmdOpts, voicecmd.WithStopPhrases(a.cfg.Commands.StopPhrases...))
	}
	if len(a.cfg.Commands.StartPhrases) > 0 {
		cmdOpts = append(cmdOpts, voicecmd.WithStartPhrases(a.cfg.Commands.StartPhrases...))
	}
	matcher := voicecmd.New(cmdOpts...)

	pipeOpts := []pipeline.Option{
		pipeline.WithCommandMatcher(matcher, a.handleCommand),
		pipeline.WithMetrics(a.metrics),
	}
	if a.store != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMemory(a.store, a.providers.Embeddings))
	}

	proc := pipeline.New(sttP, llmP, ttsP, pipeline.Config{
		SystemPrompt: a.cfg.Pipeline.SystemPrompt,
		Voice:        tts.Voice{ID: a.cfg.Pipeline.VoiceID},
		HistoryLimit: a.cfg.Pipeline.HistoryLimit,
		RecallTopK:   a.cfg.Pipeline.RecallTopK,
		Temperature:  a.cfg.Pipeline.Temperature,
		MaxTokens:    a.cfg.Pipeline.MaxTokens,
	}, pipeOpts...)

	detector := vad.New(vad.NewEnergyClassifier(a.cfg.VAD.Sensitivity), vad.Config{
		SpeechThreshold:    a.cfg.VAD.SpeechThreshold,
		SilenceThreshold:   a.cfg.VAD.SilenceThreshold,
		MinRecordingChunks: a.cfg.VAD.MinRecordingChunks,
	})

	resolver := audio.NewResolver(audio.ResolverConfig{
		ReferenceSampleRate: a.cfg.Session.SampleRate,
		ReferenceChannels:   a.cfg.Session.Channels,
	})

	a.coordinator = session.New(detector, session.NewPlaybackTimer(), resolver, proc,
		session.Config{
			SampleRate:         a.cfg.Session.SampleRate,
			Channels:           a.cfg.Session.Channels,
			PrerollChunks:      a.cfg.Session.PrerollChunks,
			MaxRecordingChunks: a.cfg.Session.MaxRecordingChunks,
			SafetyBuffer:       time.Duration(a.cfg.Session.SafetyBufferMS) * time.Millisecond,
		},
		session.WithMetrics(a.metrics),
		session.WithReplyHandler(func(r session.Reply) { a.transport.BroadcastReply(r) }),
		session.WithErrorHandler(func(err error) {
			slog.Error("pipeline error", "err", err)
			a.transport.BroadcastError(err)
		}),
	)
	wsOpts := []ws.Option{ws.WithMetrics(a.metrics)}
	if srcRate, srcCh, targetRate, ok := a.captureFormat(); ok {
		wsOpts = append(wsOpts, ws.WithInputFormat(srcRate, srcCh, targetRate))
	}
	a.transport = ws.NewServer(a.coordinator, wsOpts...)
}

// captureFormat resolves the client capture format against the detector's
// reference format. ok is false when they match and no conditioning is
// needed on ingest.
func (a *App) captureFormat() (srcRate, srcChannels, targetRate int, ok bool) {
	targetRate = a.cfg.Session.SampleRate
	if targetRate <= 0 {
		targetRate = 16000
	}
	targetCh := a.cfg.Session.Channels
	if targetCh <= 0 {
		targetCh = 1
	}
	srcRate = a.cfg.Session.InputSampleRate
	if srcRate <= 0 {
		srcRate = targetRate
	}
	srcChannels = a.cfg.Session.InputChannels
	if srcChannels <= 0 {
		srcChannels = targetCh
	}
	return srcRate, srcChannels, targetRate, srcRate != targetRate || srcChannels != targetCh
}

// handleCommand reacts to spoken session commands surfaced by the pipeline.
func (a *App) handleCommand(cmd voicecmd.Command) {
	switch cmd {
	case voicecmd.CommandStop:
		slog.Info("voice command", "command", cmd)
		a.coordinator.RequestStop()
	case voicecmd.CommandStart:
		slog.Info("voice command", "command", cmd)
		if err := a.coordinator.RequestStart(); err != nil {
			slog.Debug("start command ignored", "err", err)
		}
	}
}

// initHTTP builds the HTTP server: WebSocket ingest, health probes, and the
// Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initHTTP() {
	var checks []health.Check
	if a.pgStore != nil {
		checks = append(checks, health.Check{Name: "postgres", Probe: a.pgStore.Ping})
	}

	mux := http.NewServeMux()
	a.transport.Register(mux)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Coordinator exposes the session coordinator, mainly for tests.
func (a *App) Coordinator() *session.Coordinator {
	return a.coordinator
}

// Run serves HTTP and drives the coordinator's expiry poll until ctx is
// cancelled, then drains the HTTP server.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.coordinator.Tick()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so no pipeline invocation is in flight
		// when the store closes.
		a.coordinator.Close()

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
