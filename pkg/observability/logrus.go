package observability

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogrusLogger returns a JSON logrus logger at level, for the components
// that log through logrus (metadata reload, job scheduling). A nil output
// writes to stdout.
func NewLogrusLogger(level LogLevel, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}
	log := logrus.New()
	log.SetOutput(output)
	log.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level.String()); err == nil {
		log.SetLevel(parsed)
	}
	return log
}
