package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
)

const inboxDir = "inbox"

// InboxCarrier exchanges envelopes through per-agent inbox directories
// under a shared root: <root>/<did>/inbox/*.json. A broadcast is written to
// every other agent's inbox. Files are removed once read.
type InboxCarrier struct {
	id     string
	root   string
	inbox  string
	logger *zap.SugaredLogger

	handlers handlers
	watcher  *fsnotify.Watcher
	poll     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewInboxCarrier creates this agent's inbox under root and starts draining it.
// Messages already waiting are delivered first.
func NewInboxCarrier(id, root string, opts ...FileOption) (*InboxCarrier, error) {
	o := buildFileOptions(opts)
	inbox := filepath.Join(root, id, inboxDir)
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create inbox %s", inbox)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := watcher.Add(inbox); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch inbox %s", inbox)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &InboxCarrier{
		id:      id,
		root:    root,
		inbox:   inbox,
		logger:  o.logger.Named("inbox").With(logger.FieldDID, id, logger.FieldPath, inbox),
		watcher: watcher,
		poll:    o.poll,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.loop()
	c.logger.Infow("Inbox carrier listening")
	return c, nil
}

// ID implements Carrier.
func (c *InboxCarrier) ID() string { return c.id }

// OnMessage implements Carrier.
func (c *InboxCarrier) OnMessage(h Handler) { c.handlers.add(h) }

// Send writes env into the recipient's inbox, or every peer inbox for a
// broadcast. Unknown recipients are logged and skipped.
func (c *InboxCarrier) Send(ctx context.Context, env *Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.NewString())

	var targets []string
	if env.Recipient == Broadcast {
		entries, err := os.ReadDir(c.root)
		if err != nil {
			return errors.Wrapf(err, "list peers in %s", c.root)
		}
		for _, e := range entries {
			if e.IsDir() && e.Name() != c.id {
				targets = append(targets, e.Name())
			}
		}
	} else {
		targets = []string{env.Recipient}
	}

	for _, peer := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Join(c.root, peer, inboxDir)
		if _, err := os.Stat(dir); err != nil {
			c.logger.Warnw("Recipient inbox not found", logger.FieldPeer, peer)
			continue
		}
		if err := writeAtomic(dir, name, data); err != nil {
			c.logger.Warnw("Inbox delivery failed", logger.FieldPeer, peer, logger.FieldError, err)
		}
	}
	return nil
}

// writeAtomic renames a finished temp file into place so readers never see
// a partial message.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func (c *InboxCarrier) loop() {
	defer close(c.done)
	c.drain()

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
			if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(event.Name, ".json") {
				c.drain()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warnw("Inbox watcher error", logger.FieldError, err)
		case <-ticker.C:
			c.drain()
		}
	}
}

// drain delivers and removes every message file in name order.
func (c *InboxCarrier) drain() {
	entries, err := os.ReadDir(c.inbox)
	if err != nil {
		c.logger.Warnw("Cannot read inbox", logger.FieldError, err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if c.ctx.Err() != nil {
			return
		}
		path := filepath.Join(c.inbox, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warnw("Cannot read message", logger.FieldPath, path, logger.FieldError, err)
			}
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warnw("Cannot remove message", logger.FieldPath, path, logger.FieldError, err)
		}
		env, err := Decode(data)
		if err != nil {
			c.logger.Debugw("Skipping malformed message", logger.FieldPath, path, logger.FieldError, err)
			continue
		}
		c.handlers.deliver(c.ctx, c.id, env)
	}
}

// Close implements Carrier.
func (c *InboxCarrier) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.watcher.Close()
		<-c.done
	})
	return err
}
