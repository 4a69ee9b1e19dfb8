package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Watch-error backoff bounds. Sustained watcher errors (e.g. kernel buffer
// overflow) must not spin the loop.
const (
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 5 * time.Second
	watchErrBackoffMult = 2
)

const channelDirPerms = 0o700

// FileChannel broadcasts by rewriting a channel file in a shared directory
// and watching that directory with fsnotify. Every process holding a
// FileChannel on the same directory and channel name sees each publish.
// Writes are atomic (temp + rename) so watchers never read a partial
// message.
type FileChannel struct {
	path    string
	dir     string
	origin  string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	*registry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileChannel opens a channel named channel backed by files under dir,
// creating dir if needed, and starts the watch loop.
func NewFileChannel(dir, channel string, logger *slog.Logger) (*FileChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, channelDirPerms); err != nil {
		return nil, fmt.Errorf("broadcast: creating channel directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("broadcast: creating watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("broadcast: watching %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &FileChannel{
		path:     filepath.Join(dir, channel+".json"),
		dir:      dir,
		origin:   uuid.NewString(),
		watcher:  watcher,
		logger:   logger,
		registry: newRegistry(logger),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.watchLoop(ctx)

	return c, nil
}

// Publish writes a TOKEN_REFRESHED message to the channel file. Watching
// processes pick it up; this process skips it by origin.
func (c *FileChannel) Publish(_ context.Context, accessToken string) error {
	msg := Message{
		Type:        TypeTokenRefreshed,
		AccessToken: accessToken,
		Origin:      c.origin,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcast: encoding message: %w", err)
	}

	// Atomic write: a rename surfaces to watchers as a single create event
	// with the full message already in place.
	tmp, err := os.CreateTemp(c.dir, ".msg-*.tmp")
	if err != nil {
		return fmt.Errorf("broadcast: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("broadcast: writing message: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("broadcast: closing message file: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("broadcast: publishing message: %w", err)
	}

	c.logger.Debug("broadcast published", slog.String("channel", c.path))

	return nil
}

// watchLoop is the main select loop. It processes fsnotify events, watcher
// errors with exponential backoff, and cancellation from Close.
func (c *FileChannel) watchLoop(ctx context.Context) {
	defer close(c.done)

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			c.handleEvent(event)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			c.logger.Warn("broadcast watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(errBackoff):
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// handleEvent reads the channel file after a create/write on it and
// dispatches the message to subscribers.
func (c *FileChannel) handleEvent(event fsnotify.Event) {
	if event.Name != c.path {
		return
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		// The file may already be replaced by a newer publish.
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("broadcast read failed", slog.String("error", err.Error()))
		}

		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("broadcast decode failed", slog.String("error", err.Error()))
		return
	}

	if msg.Origin == c.origin {
		return
	}

	c.dispatch(msg)
}

// Subscribe registers h for messages from other processes.
func (c *FileChannel) Subscribe(h Handler) func() {
	return c.subscribe(h)
}

// Close stops the watch loop and guarantees no handler runs afterwards.
func (c *FileChannel) Close() error {
	c.registry.close()
	c.cancel()

	err := c.watcher.Close()
	<-c.done

	return err
}
