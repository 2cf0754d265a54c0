// Package buffercache loads audio files once and shares the decoded buffers.
// Concurrent requests for the same key share one fetch; a failed fetch is
// forgotten so that a later request can try again.
package buffercache

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bleepsynth/bleep/engine"
	"github.com/pkg/errors"
)

type (
	// Fetcher returns the encoded bytes of a resource.
	Fetcher interface {
		Fetch(ctx context.Context, key string) ([]byte, error)
	}

	// Decoder turns encoded bytes into a buffer. engine.Context is one.
	Decoder interface {
		DecodeAudioData(data []byte) (engine.Buffer, error)
	}

	Cache struct {
		fetcher Fetcher
		decoder Decoder
		logger  *slog.Logger
		timeout time.Duration

		mu      sync.Mutex
		entries map[string]*entry
	}

	// entry is resolved when done is closed.
	entry struct {
		done chan struct{}
		buf  engine.Buffer
		err  error
	}

	Option func(*Cache)

	// HTTPFetcher gets resources relative to a base URL.
	HTTPFetcher struct {
		BaseURL string
		Client  *http.Client
	}

	// FSFetcher reads resources from a file system.
	FSFetcher struct {
		FS fs.FS
	}
)

// DefaultTimeout bounds a fetch together with its decoding.
const DefaultTimeout = 30 * time.Second

// WithTimeout sets how long a load may take before it fails. Zero keeps the
// default.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(fetcher Fetcher, decoder Decoder, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{fetcher: fetcher, decoder: decoder, logger: logger, timeout: DefaultTimeout, entries: map[string]*entry{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the buffer for key, fetching and decoding it if no other call
// has. It blocks until the buffer is ready or ctx is done; cancelling ctx
// does not cancel a fetch that other callers share.
func (c *Cache) Get(ctx context.Context, key string) (engine.Buffer, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{done: make(chan struct{})}
		c.entries[key] = e
		go c.load(key, e)
	}
	c.mu.Unlock()
	select {
	case <-e.done:
		return e.buf, e.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for %s", key)
	}
}

// Loaded returns the buffer for key if it has already been loaded, without
// starting a fetch.
func (c *Cache) Loaded(key string) (engine.Buffer, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.buf, e.err == nil
	default:
		return nil, false
	}
}

func (c *Cache) load(key string, e *entry) {
	c.logger.Debug("fetching audio buffer", "key", key)
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	type result struct {
		buf engine.Buffer
		err error
	}
	// the fetch runs apart so that a fetcher ignoring ctx cannot hold the
	// waiters past the deadline
	ch := make(chan result, 1)
	go func() {
		buf, err := c.fetchAndDecode(ctx, key)
		ch <- result{buf, err}
	}()
	var err error
	select {
	case r := <-ch:
		e.buf, err = r.buf, r.err
	case <-ctx.Done():
		err = errors.Wrapf(ctx.Err(), "loading %s", key)
	}
	if err != nil {
		e.err = err
		c.logger.Warn("could not load audio buffer", "key", key, "err", err)
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	close(e.done)
}

func (c *Cache) fetchAndDecode(ctx context.Context, key string) (buf engine.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, errors.Errorf("loading %s panicked: %v", key, r)
		}
	}()
	data, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	buf, err = c.decoder.DecodeAudioData(data)
	return buf, errors.Wrapf(err, "decoding %s", key)
}

func (f HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	u, err := url.JoinPath(f.BaseURL, key)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", key)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", u)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", u)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %s: %s", u, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	return data, errors.Wrapf(err, "reading %s", u)
}

func (f FSFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	data, err := fs.ReadFile(f.FS, strings.TrimPrefix(key, "/"))
	return data, errors.Wrapf(err, "reading %s", key)
}
