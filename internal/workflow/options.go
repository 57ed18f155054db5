package workflow

import (
	"context"
	"time"

	"casewizard/internal/retry"
)

// Logger is the structured logger the engine writes to. It matches the
// method set of *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes engine operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is one traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around engine operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// Navigation moves the host application to another page.
type Navigation interface {
	NavigateTo(ctx context.Context, path string) error
}

// NavigationFunc adapts a function to Navigation.
type NavigationFunc func(ctx context.Context, path string) error

// NavigateTo implements Navigation.
func (f NavigationFunc) NavigateTo(ctx context.Context, path string) error { return f(ctx, path) }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithNotifier sets where user-visible notices go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithNavigation sets the navigation collaborator used by FollowNotice.
func WithNavigation(n Navigation) Option {
	return func(e *Engine) { e.navigation = n }
}

// WithSleeper replaces the wait used between retries and before signalling
// completion.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithAnalysisRetry overrides the analyzer retry policy.
func WithAnalysisRetry(p retry.Policy) Option {
	return func(e *Engine) { e.analysisPolicy = p }
}

// WithProtocolRetry overrides the per-item protocol retry policy.
func WithProtocolRetry(p retry.Policy) Option {
	return func(e *Engine) { e.protocolPolicy = p }
}

// WithCompletionDelay sets the pause between finalizing a submission and
// signalling completion.
func WithCompletionDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.completionDelay = d
		}
	}
}

// WithSessionIDs overrides submission session id generation.
func WithSessionIDs(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newSessionID = gen
		}
	}
}

// WithDraftExpiry overrides how long a saved draft remains restorable.
func WithDraftExpiry(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.draftExpiry = d
		}
	}
}
