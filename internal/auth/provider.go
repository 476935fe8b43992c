// Package auth supplies the session secrets every request needs: the bearer
// token for the remote API, the user's mnemonic and the default bucket. The
// session is read from a file written by an external login flow and reloaded
// when that file changes.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/filecrypt"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/tokenfile"
)

// Watcher error backoff bounds.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Session is the decrypted account state a request is served under.
type Session struct {
	Token    *oauth2.Token
	Mnemonic string
	Bucket   string
	Email    string
}

// FsWatcher is the subset of *fsnotify.Watcher the provider uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Provider loads the session file lazily and caches the result until the
// file changes.
type Provider struct {
	path       string
	logger     *slog.Logger
	newWatcher func() (FsWatcher, error)

	mu     sync.RWMutex
	cached *Session
}

// NewProvider creates a provider for the session file at path.
func NewProvider(path string, logger *slog.Logger) *Provider {
	return &Provider{
		path:       filepath.Clean(path),
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
	}
}

// Session returns the current session. A missing, incomplete or invalid
// session file yields an unauthorized error.
func (p *Provider) Session(_ context.Context) (*Session, error) {
	p.mu.RLock()
	s := p.cached
	p.mu.RUnlock()

	if s != nil {
		return s, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	tf, err := tokenfile.Load(p.path)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnauthorized, "session", p.path, err)
	}

	if tf == nil {
		return nil, fault.New(fault.KindUnauthorized, "session", p.path, "no session file (login required)")
	}

	if err := filecrypt.ValidateMnemonic(tf.Mnemonic); err != nil {
		return nil, fault.Wrap(fault.KindUnauthorized, "session", p.path, err)
	}

	p.cached = &Session{
		Token:    tf.Token,
		Mnemonic: tf.Mnemonic,
		Bucket:   tf.Bucket,
		Email:    tf.Meta["email"],
	}

	p.logger.Debug("session loaded",
		slog.String("path", p.path),
		slog.String("bucket", tf.Bucket),
	)

	return p.cached, nil
}

// Token implements oauth2.TokenSource.
func (p *Provider) Token() (*oauth2.Token, error) {
	s, err := p.Session(context.Background())
	if err != nil {
		return nil, err
	}

	return s.Token, nil
}

// Invalidate drops the cached session so the next call rereads the file.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Watch invalidates the cached session whenever the session file is written,
// replaced or removed. The parent directory is watched because login tools
// replace the file by rename. Blocks until ctx is canceled.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := p.newWatcher()
	if err != nil {
		return fmt.Errorf("auth: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("auth: watching %s: %w", dir, err)
	}

	return p.watchLoop(ctx, watcher)
}

func (p *Provider) watchLoop(ctx context.Context, watcher FsWatcher) error {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != p.path || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}

			p.Invalidate()
			p.logger.Info("session file changed, credentials will reload",
				slog.String("path", p.path),
				slog.String("op", ev.Op.String()),
			)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			p.logger.Warn("session watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if !sleepCtx(ctx, errBackoff) {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// sleepCtx waits for d or until ctx is done; reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

