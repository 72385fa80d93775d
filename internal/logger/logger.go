package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Level lets callers use the levels without importing slog
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger       *slog.Logger
	sampleRate   atomic.Int32
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error // nil unless OTEL is enabled
)

// Counters for the health endpoint, incremented regardless of sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total404Errors atomic.Int64
	Total409Errors atomic.Int64
	Total422Errors atomic.Int64

	Evaluations         atomic.Int64
	RulesMatched        atomic.Int64
	TransitionsApplied  atomic.Int64
	TransitionsRejected atomic.Int64
	ConcurrentUpdates   atomic.Int64
)

// Options selects the log level, sampling and export target
type Options struct {
	Level       string
	SampleRate  int
	OTELEnabled bool
	ServiceName string
}

func init() {
	programLevel.Set(slog.LevelInfo)
	sampleRate.Store(1)
	setupJSONLogging(os.Stdout)
}

// Configure applies options on top of the default JSON logger. When OTEL
// setup fails it falls back to JSON and returns the error for the caller to
// report.
func Configure(ctx context.Context, opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		level = LevelInfo
	}
	programLevel.Set(level)

	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	if !opts.OTELEnabled {
		setupJSONLogging(os.Stdout)
		return nil
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "unknown-service"
	}
	shutdown, err := setupOTELLogging(ctx, serviceName)
	if err != nil {
		setupJSONLogging(os.Stdout)
		return fmt.Errorf("setup OTEL logging: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

// setupJSONLogging configures JSON logging to w
func setupJSONLogging(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// setupOTELLogging bridges slog to an OTLP gRPC log exporter
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	Logger = slog.New(&levelHandler{level: programLevel, handler: otelHandler})
	slog.SetDefault(Logger)

	return loggerProvider.Shutdown, nil
}

// levelHandler drops records below the program level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if any
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel changes the minimum level at runtime
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the minimum level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel maps a LOG_LEVEL value to a level. An empty value is INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// shouldSample returns true for one out of every N warnings and errors
func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Trace logs a trace-level message
func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug-level message
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message WITH SAMPLING.
// The counter is always incremented.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message WITH SAMPLING.
// The counter is always incremented.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ErrorHttp5xx counts an HTTP 5xx response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts an HTTP 4xx response
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 404:
		Total404Errors.Add(1)
	case 409:
		Total409Errors.Add(1)
	case 422:
		Total422Errors.Add(1)
	}
}

// Counters returns a snapshot of every counter
func Counters() map[string]int64 {
	return map[string]int64{
		"errors":               TotalErrors.Load(),
		"warnings":             TotalWarnings.Load(),
		"http_5xx":             Total5xxErrors.Load(),
		"http_4xx":             Total4xxErrors.Load(),
		"http_404":             Total404Errors.Load(),
		"http_409":             Total409Errors.Load(),
		"http_422":             Total422Errors.Load(),
		"evaluations":          Evaluations.Load(),
		"rules_matched":        RulesMatched.Load(),
		"transitions_applied":  TransitionsApplied.Load(),
		"transitions_rejected": TransitionsRejected.Load(),
		"concurrent_updates":   ConcurrentUpdates.Load(),
	}
}
