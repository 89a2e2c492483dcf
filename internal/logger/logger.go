// Package logger provides the process-wide structured logger. Output is
// JSON on stdout, or OpenTelemetry logs over OTLP/gRPC when OTEL_ENABLED is
// set. Warnings and errors are sampled; their counters are not.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.Level(12)
)

var (
	Logger       *slog.Logger
	sampleRate   atomic.Int32
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error
)

// Counters of problems seen by the process, incremented even when the log
// line itself is sampled away.
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total401Errors atomic.Int64
	Total404Errors atomic.Int64
	SlowRequests   atomic.Int64
	Submissions    atomic.Int64
)

// Options configures Setup.
type Options struct {
	Service string
	Level   string
	// SampleRate logs one in N warnings and errors. Values below 2 log all.
	SampleRate int
	OTEL       bool
	Output     io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and
// OTEL_SERVICE_NAME.
func OptionsFromEnv(service string) Options {
	opts := Options{
		Service:    service,
		Level:      os.Getenv("LOG_LEVEL"),
		SampleRate: 1,
		OTEL:       strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true"),
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		opts.Service = name
	}
	if v, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && v > 0 {
		opts.SampleRate = v
	}
	return opts
}

func init() {
	programLevel.Set(LevelInfo)
	sampleRate.Store(1)
	Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
}

// Setup installs the process logger. When OTEL setup fails it falls back to
// JSON and returns the OTEL error alongside.
func Setup(opts Options) error {
	level, levelErr := ParseLevel(opts.Level)
	programLevel.Set(level)
	if opts.SampleRate < 1 {
		opts.SampleRate = 1
	}
	sampleRate.Store(int32(opts.SampleRate))

	if opts.OTEL {
		shutdown, err := setupOTEL(context.Background(), opts.Service)
		if err == nil {
			shutdownFunc = shutdown
			return levelErr
		}
		setupJSON(opts.Output)
		Logger.Warn("OpenTelemetry logging unavailable, using JSON", "error", err)
		return err
	}

	setupJSON(opts.Output)
	return levelErr
}

func setupJSON(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTEL(ctx context.Context, service string) (func(context.Context) error, error) {
	if service == "" {
		service = "lexify"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(service, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)
	return provider.Shutdown, nil
}

// levelHandler adds level filtering to the OTEL bridge, which has none.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
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

// Shutdown flushes the OTEL exporter, if any.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the minimum level.
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel maps a level name to a level. Empty means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q, using INFO", s)
	}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts a warning and logs it when sampled.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts an error and logs it when sampled.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// CountStatus updates the HTTP status counters.
func CountStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
		switch status {
		case 401:
			Total401Errors.Add(1)
		case 404:
			Total404Errors.Add(1)
		}
	}
}

// Counters returns a snapshot of every counter.
func Counters() map[string]int64 {
	return map[string]int64{
		"errors":       TotalErrors.Load(),
		"warnings":     TotalWarnings.Load(),
		"http5xx":      Total5xxErrors.Load(),
		"http4xx":      Total4xxErrors.Load(),
		"http401":      Total401Errors.Load(),
		"http404":      Total404Errors.Load(),
		"slowRequests": SlowRequests.Load(),
		"submissions":  Submissions.Load(),
	}
}
