package khata

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/khata/pkg/adapters/tts"
	"github.com/harunnryd/khata/pkg/configutil"
	"github.com/harunnryd/khata/pkg/conversation"
	"github.com/harunnryd/khata/pkg/decision"
	"github.com/harunnryd/khata/pkg/execution"
	"github.com/harunnryd/khata/pkg/frames"
	"github.com/harunnryd/khata/pkg/kv"
	"github.com/harunnryd/khata/pkg/logging"
	"github.com/harunnryd/khata/pkg/metrics"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/notify"
	"github.com/harunnryd/khata/pkg/observers"
	"github.com/harunnryd/khata/pkg/resolver"
	"github.com/harunnryd/khata/pkg/runner"
	"github.com/harunnryd/khata/pkg/session"
	"github.com/harunnryd/khata/pkg/storage"
	"github.com/harunnryd/khata/pkg/transports"
	"github.com/harunnryd/khata/pkg/transports/websocket"
)

// Engine owns the shared infrastructure and hands each connection its own
// conversation orchestrator.
type Engine struct {
	cfg       Config
	db        *sql.DB
	backend   kv.Store
	store     *session.Store
	registry  *conversation.Registry
	transport transports.Transport
	providers *ProviderRegistry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	sms       *notify.SMSSender

	metricsFile *os.File
	ctx         context.Context
	cancel      context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the config-built transport, mostly for tests.
	Transport transports.Transport
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("khata_init",
		"environment", cfg.Environment,
		"business_id", cfg.BusinessID,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"transport", cfg.Transport.Provider,
	)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	var metricsFile *os.File
	var sink io.Writer = io.Discard
	if path := strings.TrimSpace(cfg.Observability.MetricsPath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		metricsFile = f
		sink = f
	}
	buffer := cfg.Observability.AsyncBuffer
	if buffer <= 0 {
		buffer = 2048
	}
	var inner metrics.Observer = metrics.NewJSONLObserver(sink)
	if rate := cfg.Observability.SampleRate; rate > 0 && rate < 1 {
		inner = metrics.NewSamplingObserver(inner, rate)
	}
	var timelineObs *observers.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.TimelineDir); dir != "" {
		timelineObs = observers.NewTimelineObserver(dir)
		inner = observers.NewMultiObserver(inner, timelineObs)
	}
	asyncObs := metrics.NewAsyncObserver(inner, buffer)

	db, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	var backend kv.Store
	if strings.EqualFold(strings.TrimSpace(cfg.Sessions.Backend), "redis") {
		backend = kv.NewRedisStore(cfg.Sessions.Redis)
	} else {
		backend = kv.NewMemoryStore()
	}
	store := session.NewStoreWithTTL(backend,
		time.Duration(cfg.Sessions.TTLSeconds)*time.Second,
		time.Duration(cfg.Sessions.GraceSeconds)*time.Second,
	)

	llmClient, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	transcriber, err := providers.BuildSTT(cfg.Vendors.STT.Provider, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	synth, err := providers.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	res := resolver.New(db)
	parser := nlu.NewParser(llmClient, slog.Default())
	planner := nlu.NewQueryPlanner(llmClient, slog.Default())
	gate := decision.NewGate(cfg.Decision.AutoExecuteLimit)
	exec := execution.NewCoordinator(db, res, planner, slog.Default())
	registry := conversation.NewRegistry()

	var sms *notify.SMSSender
	if cfg.Notify.Enabled {
		sms = notify.NewSMSSender(notify.Config{
			AccountSID: cfg.Notify.AccountSID,
			AuthToken:  cfg.Notify.AuthToken,
			From:       cfg.Notify.From,
		}, slog.Default())
	}

	emitter := &transportEmitter{}

	factory := websocket.Factory(func(ctx context.Context, userID string, emit func(conversation.Event)) (*conversation.Orchestrator, error) {
		return conversation.New(ctx, conversation.Deps{
			BusinessID:       cfg.BusinessID,
			UserID:           userID,
			Store:            store,
			Parser:           parser,
			Resolver:         res,
			Decision:         gate,
			Executor:         exec,
			STT:              transcriber,
			VADConfig:        cfg.VADSettings(),
			Strategy:         cfg.TurnStrategy(),
			BargeInThreshold: cfg.BargeInThreshold(),
			Emitter:          emitter,
			Observer:         asyncObs,
			Logger:           slog.Default(),
			Emit:             wrapEmit(emit, sms, cfg.Notify.OwnerPhone),
		})
	})

	transport := opts.Transport
	if transport == nil {
		transport, err = buildTransport(cfg, factory, synth, registry, asyncObs)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	emitter.Bind(transport)

	e := &Engine{
		cfg:         cfg,
		db:          db,
		backend:     backend,
		store:       store,
		registry:    registry,
		transport:   transport,
		providers:   providers,
		asyncObs:    asyncObs,
		sms:         sms,
		metricsFile: metricsFile,
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Khata Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			asyncObs.Close()
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			if e.metricsFile != nil {
				_ = e.metricsFile.Close()
			}
			_ = e.backend.Close()
			_ = e.db.Close()
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_sessions", registry.Count())
		},
	}

	drainer := runner.DrainerFunc(func() error {
		if d, ok := transport.(transports.Drainer); ok {
			d.Drain()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		registry.Drain(ctx)
		return transport.Stop()
	})

	e.runner = runner.NewLifecycleRunner(drainer, hooks, 30*time.Second)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func buildTransport(cfg Config, factory websocket.Factory, synth tts.Synthesizer, registry *conversation.Registry, obs metrics.Observer) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Provider)) {
	case "websocket":
		var wsCfg websocket.Config
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &wsCfg); err != nil {
			return nil, err
		}
		if wsCfg.SampleRate == 0 {
			wsCfg.SampleRate = cfg.VAD.SampleRate
		}
		return websocket.New(wsCfg, factory, synth, registry, obs, slog.Default()), nil
	default:
		return nil, fmt.Errorf("transport provider not registered: %s", cfg.Transport.Provider)
	}
}

// wrapEmit forwards events to the client and, when enabled, texts the owner a
// receipt after each executed transaction.
func wrapEmit(emit func(conversation.Event), sms *notify.SMSSender, ownerPhone string) func(conversation.Event) {
	if sms == nil || strings.TrimSpace(ownerPhone) == "" {
		return emit
	}
	return func(ev conversation.Event) {
		emit(ev)
		if ev.Type != conversation.EventExecuted {
			return
		}
		text, _ := ev.Payload["summary"].(string)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := sms.Send(ctx, ownerPhone, notify.TransactionReceipt(text, 0)); err != nil {
				slog.Warn("receipt_sms_failed", "err", err)
			}
		}()
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	if err := e.db.Ping(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Registry() *conversation.Registry { return e.registry }

func (e *Engine) Store() *session.Store { return e.store }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

// transportEmitter forwards interrupt control frames to the transport. The
// transport is bound after construction because the connection factory that
// needs the emitter is itself an input to the transport.
type transportEmitter struct {
	mu sync.Mutex
	t  transports.Transport
}

func (e *transportEmitter) Bind(t transports.Transport) {
	e.mu.Lock()
	e.t = t
	e.mu.Unlock()
}

func (e *transportEmitter) Emit(f frames.Frame) error {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Send(f)
}

func SetDefaultLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		slog.SetDefault(logging.InitLogger(lvl))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
