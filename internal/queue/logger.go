package queue

import (
	"fmt"

	"github.com/hibiken/asynq"

	"cardgen/internal/infra"
)

type asynqLogger struct {
	l *infra.Logger
}

// NewAsynqLogger routes asynq's internal logging through zerolog.
func NewAsynqLogger(l *infra.Logger) asynq.Logger {
	if l == nil {
		l = infra.DiscardLogger()
	}
	return asynqLogger{l: l}
}

func (a asynqLogger) Debug(args ...any) {
	a.l.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (a asynqLogger) Info(args ...any) {
	a.l.Info().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (a asynqLogger) Warn(args ...any) {
	a.l.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (a asynqLogger) Error(args ...any) {
	a.l.Error().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (a asynqLogger) Fatal(args ...any) {
	a.l.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...))
}
