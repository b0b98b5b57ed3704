package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
	watch  bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithWatch enables the filesystem watcher in serve mode.
func WithWatch(enabled bool) Option {
	return func(a *application) {
		a.watch = enabled
	}
}

func newApplication(opts []Option) *application {
	app := &application{watch: true}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = slog.Default()
	}
	return app
}
