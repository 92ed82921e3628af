package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
)

// DefaultPollInterval backs up filesystem notifications for file-based carriers.
const DefaultPollInterval = 250 * time.Millisecond

// FileCarrier shares one append-only JSON-lines log between agents. Every
// carrier tails the log from the size it had at startup; history written
// before that is not replayed.
type FileCarrier struct {
	id     string
	path   string
	logger *zap.SugaredLogger

	handlers handlers
	writeMu  sync.Mutex

	offset  int64
	partial []byte

	watcher *fsnotify.Watcher
	poll    time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// FileOption configures file-based carriers.
type FileOption func(*fileOptions)

type fileOptions struct {
	logger *zap.SugaredLogger
	poll   time.Duration
}

// WithFileLogger sets the logger.
func WithFileLogger(l *zap.SugaredLogger) FileOption {
	return func(o *fileOptions) { o.logger = l }
}

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) FileOption {
	return func(o *fileOptions) { o.poll = d }
}

func buildFileOptions(opts []FileOption) fileOptions {
	o := fileOptions{logger: zap.NewNop().Sugar(), poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFileCarrier opens (creating if needed) the log at path and starts tailing it.
func NewFileCarrier(id, path string, opts ...FileOption) (*FileCarrier, error) {
	o := buildFileOptions(opts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create carrier log dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open carrier log %s", path)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "stat carrier log %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch carrier log %s", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &FileCarrier{
		id:      id,
		path:    path,
		logger:  o.logger.Named("file").With(logger.FieldDID, id, logger.FieldPath, path),
		offset:  info.Size(),
		watcher: watcher,
		poll:    o.poll,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

// ID implements Carrier.
func (c *FileCarrier) ID() string { return c.id }

// OnMessage implements Carrier.
func (c *FileCarrier) OnMessage(h Handler) { c.handlers.add(h) }

// Send appends env as one line.
func (c *FileCarrier) Send(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open carrier log %s", c.path)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return errors.Wrapf(err, "append to carrier log %s", c.path)
	}
	return nil
}

func (c *FileCarrier) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				c.readNew()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warnw("Carrier log watcher error", logger.FieldError, err)
		case <-ticker.C:
			c.readNew()
		}
	}
}

// readNew consumes complete lines past the current offset. Only loop calls it.
func (c *FileCarrier) readNew() {
	f, err := os.Open(c.path)
	if err != nil {
		c.logger.Warnw("Cannot open carrier log", logger.FieldError, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() <= c.offset {
		if err == nil && info.Size() < c.offset {
			// truncated underneath us; start over from the new end
			c.offset, c.partial = info.Size(), nil
		}
		return
	}
	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		c.logger.Warnw("Cannot seek carrier log", logger.FieldError, err)
		return
	}
	chunk, err := io.ReadAll(io.LimitReader(f, info.Size()-c.offset))
	if err != nil {
		c.logger.Warnw("Cannot read carrier log", logger.FieldError, err)
		return
	}
	c.offset += int64(len(chunk))

	data := append(c.partial, chunk...)
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		c.partial = data
		return
	}
	c.partial = append([]byte(nil), data[last+1:]...)

	for _, line := range bytes.Split(data[:last], []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		env, err := Decode(line)
		if err != nil {
			c.logger.Debugw("Skipping malformed log line", logger.FieldError, err)
			continue
		}
		c.handlers.deliver(c.ctx, c.id, env)
	}
}

// Close implements Carrier.
func (c *FileCarrier) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.watcher.Close()
		<-c.done
	})
	return err
}
