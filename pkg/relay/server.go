// Package relay implements the voice relay service: the WebSocket endpoint
// that accepts kiosk microphone sessions, the per-connection session manager,
// and the HTTP surface around them (health, synthesis, metrics, monitoring).
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bevpro/voicerelay/internal/config"
	"github.com/bevpro/voicerelay/internal/log"
	"github.com/bevpro/voicerelay/internal/observe"
	"github.com/bevpro/voicerelay/pkg/hub"
	"github.com/bevpro/voicerelay/pkg/resolver"
	"github.com/bevpro/voicerelay/pkg/tts"
	"github.com/bevpro/voicerelay/pkg/voice"
)

// shutdownGrace bounds how long in-flight requests get on shutdown.
const shutdownGrace = 5 * time.Second

// Server is the relay service. Build one with New, then call Run.
type Server struct {
	cfg config.Config
	app *fiber.App

	synth      tts.Provider
	resolver   *resolver.Client
	monitor    *hub.Hub
	metrics    *observe.Metrics
	adapterFor func(voice.Config) (voice.Adapter, error)
	backoff    Backoff
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSynth overrides the synthesis provider (tests, custom chains).
func WithSynth(p tts.Provider) Option {
	return func(s *Server) { s.synth = p }
}

// WithResolver overrides the command resolver client.
func WithResolver(rc *resolver.Client) Option {
	return func(s *Server) { s.resolver = rc }
}

// WithMetrics overrides the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAdapterFactory overrides how provider adapters are created.
func WithAdapterFactory(f func(voice.Config) (voice.Adapter, error)) Option {
	return func(s *Server) { s.adapterFor = f }
}

// WithBackoff overrides the upstream reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(s *Server) { s.backoff = b }
}

// New creates a relay server from validated configuration.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		monitor:    hub.New("monitor"),
		adapterFor: voice.New,
		backoff:    DefaultBackoff(),
		logger:     log.Component("relay"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = observe.Default()
	}
	if s.resolver == nil {
		s.resolver = resolver.NewClient(cfg.ResolverURL)
	}
	if s.synth == nil {
		chain, err := buildChain(cfg)
		if err != nil {
			return nil, err
		}
		s.synth = chain // nil when no TTS key is configured
	}

	s.app = s.buildApp()
	return s, nil
}

// buildChain assembles the synthesis fallback chain from configured keys:
// ElevenLabs primary, OpenAI secondary. Returns a nil Provider when neither
// key is present.
func buildChain(cfg config.Config) (tts.Provider, error) {
	var providers []tts.Provider

	if cfg.ElevenLabsKey != "" {
		el, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.ElevenLabsKey),
			tts.WithVoice(cfg.VoiceID),
		)
		if err != nil {
			return nil, fmt.Errorf("relay: elevenlabs: %w", err)
		}
		providers = append(providers, el)
	}
	if cfg.OpenAIKey != "" {
		oa, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.OpenAIKey),
			tts.WithVoice(cfg.TTSVoice),
		)
		if err != nil {
			return nil, fmt.Errorf("relay: openai tts: %w", err)
		}
		providers = append(providers, oa)
	}

	if len(providers) == 0 {
		return nil, nil
	}
	chain, err := tts.NewChain(providers)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *Server) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "voicerelay",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Post("/synthesize", s.handleSynthesize)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/voice", websocket.New(s.handleVoice))
	app.Get("/ws/monitor", websocket.New(s.handleMonitor))

	return app
}

// App returns the fiber app, used by handler tests.
func (s *Server) App() *fiber.App { return s.app }

// Run starts the monitor hub and the HTTP listener, blocking until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
	}()

	s.logger.Info("relay listening",
		"port", s.cfg.Port,
		"lane", selectLane(s.cfg),
		"synthesis", s.synth != nil,
	)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.app.ShutdownWithContext(shutCtx)
	case err := <-errCh:
		return err
	}
}

// handleHealth reports service vitals: which providers are configured and
// which lane new sessions will take.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ok":       true,
		"lane":     selectLane(s.cfg),
		"monitors": s.monitor.ClientCount(),
		"providers": fiber.Map{
			"deepgram":   s.cfg.HasASR(),
			"openai":     s.cfg.HasRealtime(),
			"elevenlabs": s.cfg.ElevenLabsKey != "",
		},
	})
}

// synthesizeRequest is the /synthesize body.
type synthesizeRequest struct {
	Text      string `json:"text"`
	VoiceHint string `json:"voiceHint,omitempty"`
}

// handleSynthesize exposes the TTS fallback chain over HTTP. Responds with
// raw audio; the X-TTS-Provider header names the provider that produced it.
func (s *Server) handleSynthesize(c *fiber.Ctx) error {
	if s.synth == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no synthesis provider configured",
		})
	}

	var req synthesizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}

	result, err := synthesizeWithHint(c.UserContext(), s.synth, req.Text, req.VoiceHint)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "synthesis failed",
		})
	}

	c.Set("Content-Type", result.FormatMIME())
	c.Set("X-TTS-Provider", result.Provider)
	return c.Send(result.Audio)
}

// synthesizeWithHint routes a request through the provider's per-request
// voice path when a hint is present and the provider has one.
func synthesizeWithHint(ctx context.Context, p tts.Provider, text, voiceHint string) (*tts.AudioResult, error) {
	if voiceHint != "" {
		if vs, ok := p.(tts.VoiceSelector); ok {
			return vs.SynthesizeVoice(ctx, text, voiceHint)
		}
	}
	return p.Synthesize(ctx, text)
}

// handleVoice runs one client voice session. Blocks for the lifetime of the
// connection.
func (s *Server) handleVoice(conn *websocket.Conn) {
	newConn(conn, s.deps()).Run()
}

// handleMonitor attaches a dashboard observer to the broadcast hub.
func (s *Server) handleMonitor(conn *websocket.Conn) {
	hub.NewClient(s.monitor, conn).Run()
}

func (s *Server) deps() connDeps {
	return connDeps{
		cfg:        s.cfg,
		synth:      s.synth,
		resolver:   s.resolver,
		monitor:    s.monitor,
		metrics:    s.metrics,
		adapterFor: s.adapterFor,
		backoff:    s.backoff,
		logger:     s.logger,
	}
}
