package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields are the structured keys every component logs with.
type Fields struct {
	Component   string
	OrderID     string
	OrderNumber string
	Channel     string
	Status      string
	DurationMS  int64
}

func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// With returns an entry carrying only the non-empty fields.
func With(log logrus.FieldLogger, f Fields) *logrus.Entry {
	out := logrus.Fields{}
	if f.Component != "" {
		out["component"] = f.Component
	}
	if f.OrderID != "" {
		out["order_id"] = f.OrderID
	}
	if f.OrderNumber != "" {
		out["order_number"] = f.OrderNumber
	}
	if f.Channel != "" {
		out["channel"] = f.Channel
	}
	if f.Status != "" {
		out["status"] = f.Status
	}
	if f.DurationMS != 0 {
		out["duration_ms"] = f.DurationMS
	}
	return log.WithFields(out)
}

// Discard is a logger for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
