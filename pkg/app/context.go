package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool
	NoColor      bool

	// ConfigFile overrides the host configuration search paths
	ConfigFile string

	// Common timeouts
	DefaultTimeout time.Duration

	// Progress reporting
	ProgressCallback func(message string, percent int)

	// Out receives formatted command output
	Out io.Writer

	logger *logrus.Logger
}

// NewContext creates a new application context
func NewContext() *Context {
	return &Context{
		Context:        context.Background(),
		DefaultTimeout: 30 * time.Second,
		Out:            os.Stdout,
	}
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(string, int)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(message string, percent int) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(message, percent)
	}
}

// Logger returns the structured logger. Its level follows the verbosity
// flags: debug when verbose, errors only when quiet, info otherwise.
func (c *Context) Logger() *logrus.Logger {
	if c.logger != nil {
		return c.logger
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: c.NoColor, DisableTimestamp: true})
	switch {
	case c.Quiet:
		l.SetLevel(logrus.ErrorLevel)
	case c.Verbose:
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	c.logger = l
	return l
}

// SetLogger replaces the logger, mainly for tests
func (c *Context) SetLogger(l *logrus.Logger) {
	c.logger = l
}

// Log outputs a message based on verbosity settings
func (c *Context) Log(message string) {
	c.Logger().Debug(message)
}

// Error outputs an error message unless quiet
func (c *Context) Error(message string) {
	c.Logger().Error(message)
}
