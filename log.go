package cardano

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = zerolog.New(nil).Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.TimeOnly,
}).With().Timestamp().Logger()

func Log() *zerolog.Logger {
	return &log
}

func init() {
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.ErrorStackMarshaler = MarshalStack
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

type LogOptions struct {
	Level string
	// File enables a rotating log file alongside the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// ConfigureLogging replaces the package logger. An empty level keeps the
// current global level.
func ConfigureLogging(options LogOptions) (err error) {
	if options.Level != "" {
		level, err2 := zerolog.ParseLevel(options.Level)
		if err2 != nil {
			return errors.WithStack(err2)
		}
		zerolog.SetGlobalLevel(level)
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}

	if options.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   options.File,
			MaxSize:    options.MaxSizeMB,
			MaxBackups: options.MaxBackups,
			Compress:   true,
		})
	}

	log = zerolog.New(out).With().Timestamp().Logger()
	return
}

func MarshalStack(err error) interface{} {
	fmt.Println(StackTracerMessage(err))
	return pkgerrors.MarshalStack(err)
}

func StackTracerMessage(err error) string {
	type StackTracer interface {
		StackTrace() errors.StackTrace
	}

	var errString string

	if err != nil {
		if stackTracer, isStackTracer := err.(StackTracer); isStackTracer {
			for _, f := range stackTracer.StackTrace() {
				errString += fmt.Sprintf("%+v\n", f)
			}
		}
	}

	return errString
}
