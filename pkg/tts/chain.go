package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultAttemptTimeout bounds a single provider attempt within the chain so
// a hung primary cannot stall the fallback.
const DefaultAttemptTimeout = 10 * time.Second

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, returns a ChainError that
// matches ErrNoProviderAvailable.
type Chain struct {
	providers      []Provider
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithAttemptTimeout bounds each provider attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.attemptTimeout = d
	}
}

// WithChainLogger sets the structured logger for the chain.
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger.With("component", "tts.chain")
	}
}

// NewChain creates a provider chain that tries providers in order.
// At least one provider is required.
func NewChain(providers []Provider, opts ...ChainOption) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviderAvailable
	}

	c := &Chain{
		providers:      providers,
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default().With("component", "tts.chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the chain as a composite provider.
func (c *Chain) Name() string { return "chain" }

// Synthesize tries each provider until one succeeds. Each attempt runs under
// a bounded timeout so a slow provider falls through instead of blocking.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return c.synthesize(ctx, text, "")
}

// SynthesizeVoice runs the same fallback sequence with a per-request voice.
// Providers that cannot select a voice per request use their configured one.
func (c *Chain) SynthesizeVoice(ctx context.Context, text, voice string) (*AudioResult, error) {
	return c.synthesize(ctx, text, voice)
}

func (c *Chain) synthesize(ctx context.Context, text, voice string) (*AudioResult, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := c.attempt(ctx, p, text, voice)
		if err == nil {
			if i > 0 {
				result.Fallback = true
				c.logger.Info("fallback provider succeeded",
					"provider", p.Name(),
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next",
			"provider", p.Name(),
			"error", err,
		)

		// Caller cancellation ends the chain; a per-attempt timeout does not.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

func (c *Chain) attempt(ctx context.Context, p Provider, text, voice string) (*AudioResult, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	var result *AudioResult
	var err error
	if vs, ok := p.(VoiceSelector); ok && voice != "" {
		result, err = vs.SynthesizeVoice(ctx, text, voice)
	} else {
		result, err = p.Synthesize(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if result.Provider == "" {
		result.Provider = p.Name()
	}
	return result, nil
}

// Health checks all providers and returns an error if all are unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)

	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Verify Chain implements Provider at compile time.
var (
	_ Provider      = (*Chain)(nil)
	_ VoiceSelector = (*Chain)(nil)
)
