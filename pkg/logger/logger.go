package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is the logging contract used throughout the driver.
// args are alternating key/value pairs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogBuild struct {
	writer     io.Writer
	path       string
	level      zerolog.Level
	LogChannel chan string
}

type LogData struct {
	LogFile    *os.File
	Logger     zerolog.Logger
	LogChannel chan string
}

var _ Logger = (*LogData)(nil)

func New() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// FromChannel additionally forwards every formatted message to chn.
// Messages are dropped when chn is full.
func (build *LogBuild) FromChannel(chn chan string) *LogBuild {
	build.LogChannel = chn
	return build
}

func (build *LogBuild) Level(level zerolog.Level) *LogBuild {
	build.level = level
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	var writer io.Writer = os.Stderr
	if build.writer != nil {
		writer = build.writer
	}
	logData.LogChannel = build.LogChannel
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	if logData.LogChannel != nil {
		writer = io.MultiWriter(writer, channelWriter(logData.LogChannel))
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Default is the logger used when none is configured: warnings and
// errors to stderr.
func Default() Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return &LogData{Logger: l}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(l zerolog.Logger) Logger {
	return &LogData{Logger: l}
}

// Nop discards everything.
func Nop() Logger {
	return &LogData{Logger: zerolog.Nop()}
}

func (l *LogData) Error(msg string, args ...any) {
	l.Logger.Error().Fields(args).Msg(msg)
}

func (l *LogData) Warn(msg string, args ...any) {
	l.Logger.Warn().Fields(args).Msg(msg)
}

func (l *LogData) Info(msg string, args ...any) {
	l.Logger.Info().Fields(args).Msg(msg)
}

func (l *LogData) Debug(msg string, args ...any) {
	l.Logger.Debug().Fields(args).Msg(msg)
}

// Close releases the log file, if any.
func (l *LogData) Close() error {
	if l.LogFile != nil {
		return l.LogFile.Close()
	}
	return nil
}

type channelWriter chan string

func (c channelWriter) Write(p []byte) (int, error) {
	select {
	case c <- string(p):
	default:
	}
	return len(p), nil
}
