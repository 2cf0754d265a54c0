package cmd

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bleepsynth/bleep/buffercache"
)

// NewCache returns a cache of the audio files under base, which is either a
// http(s) URL or a directory. A load taking longer than timeout fails.
func NewCache(base string, timeout time.Duration, decoder buffercache.Decoder, logger *slog.Logger) *buffercache.Cache {
	var f buffercache.Fetcher
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		f = buffercache.HTTPFetcher{BaseURL: base}
	} else {
		f = buffercache.FSFetcher{FS: os.DirFS(base)}
	}
	return buffercache.New(f, decoder, logger, buffercache.WithTimeout(timeout))
}

// NewLogger logs text to stderr, at debug level if debug is set.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
