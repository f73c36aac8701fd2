package inference

import (
	"time"

	"go.uber.org/zap"
)

// DisplayNames maps category identifiers to the names shown to clients.
type DisplayNames map[string]string

// Name returns the display name for id, or id itself when unmapped.
func (d DisplayNames) Name(id string) string {
	if name, ok := d[id]; ok && name != "" {
		return name
	}
	return id
}

// Option configures a Service.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	displayNames  DisplayNames
	cacheSize     int
	watchDebounce time.Duration
}

func defaultOptions() options {
	return options{
		cacheSize:     1024,
		watchDebounce: 500 * time.Millisecond,
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDisplayNames sets the identifier to display name table.
func WithDisplayNames(names map[string]string) Option {
	return func(o *options) {
		o.displayNames = make(DisplayNames, len(names))
		for k, v := range names {
			o.displayNames[k] = v
		}
	}
}

// WithCacheSize bounds the per-model result cache. Zero disables it.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithWatchDebounce sets the quiet period Watch waits after the last file
// event before reloading.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) { o.watchDebounce = d }
}
