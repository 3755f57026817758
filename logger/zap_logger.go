package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  config.Level,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, lConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	logger, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	l := NewZapWrapper(logger)

	l.Debug("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
	)

	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() types.Logger {
	return NewZapWrapper(zap.NewNop())
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	level := parseLogLevel(config.Level)

	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if config.File == "" {
			return nil, types.ErrLogFileIsEmpty
		}
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	dir := filepath.Dir(logFile)
	if dir == "." {
		return types.Errorf(types.ErrLogFileWrongFormat, "log file %q has no directory", logFile)
	}

	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.Log(lvl, msg, fields...)
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

// ErrorWithErrStack logs the root cause and, when err carries a pkg/errors
// stack, the trimmed frames as a "stack" field.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Logger.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.String("error", errors.Cause(err).Error()))
	allFields = append(allFields, fields...)

	if stack := extractStackFromError(err); stack != "" {
		allFields = append(allFields, zap.String("stack", stack))
	}

	z.Logger.Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func extractStackFromError(err error) string {
	var st stackTracer
	if !errors.As(err, &st) {
		return ""
	}

	lines := strings.Split(fmt.Sprintf("%+v", st.StackTrace()), "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" ||
			strings.Contains(line, "runtime.goexit") ||
			strings.Contains(line, "runtime/panic.go") ||
			strings.Contains(line, "asm_amd64.s:") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

// With returns a logger that adds fields to every entry.
func With(l types.Logger, fields ...zap.Field) types.Logger {
	if len(fields) == 0 {
		return l
	}

	switch base := l.(type) {
	case *ZapWrapper:
		return &ZapWrapper{Logger: base.Logger.With(fields...)}
	case *fieldLogger:
		return &fieldLogger{base: base.base, fields: append(append([]zap.Field{}, base.fields...), fields...)}
	default:
		return &fieldLogger{base: l, fields: fields}
	}
}

type fieldLogger struct {
	base   types.Logger
	fields []zap.Field
}

func (f *fieldLogger) with(fields []zap.Field) []zap.Field {
	return append(append(make([]zap.Field, 0, len(f.fields)+len(fields)), f.fields...), fields...)
}

func (f *fieldLogger) Error(msg string, fields ...zap.Field) {
	f.base.Error(msg, f.with(fields)...)
}

func (f *fieldLogger) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	f.base.ErrorWithErrStack(msg, err, f.with(fields)...)
}

func (f *fieldLogger) Warn(msg string, fields ...zap.Field) {
	f.base.Warn(msg, f.with(fields)...)
}

func (f *fieldLogger) Info(msg string, fields ...zap.Field) {
	f.base.Info(msg, f.with(fields)...)
}

func (f *fieldLogger) Debug(msg string, fields ...zap.Field) {
	f.base.Debug(msg, f.with(fields)...)
}

func (f *fieldLogger) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	f.base.Log(lvl, msg, f.with(fields)...)
}
