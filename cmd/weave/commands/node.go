package commands

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weave/agent"
	"github.com/teranos/weave/am"
	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/db"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/ledger"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/persist"
	"github.com/teranos/weave/sandbox"
)

// node is an agent with its local collaborators.
type node struct {
	cfg     *am.Config
	db      *sql.DB
	key     *identity.KeyPair
	carrier carrier.Carrier
	ledger  ledger.Client
	sandbox *sandbox.Host
	agent   *agent.Agent
	logger  *zap.SugaredLogger
}

// loadConfig loads and validates the merged configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// openNode opens the database and identity and restores the agent. A
// networked node also starts the configured carrier, ledger and sandbox;
// otherwise the agent sits on a private bus, enough for local commands.
func openNode(ctx context.Context, cfg *am.Config, networked bool) (*node, error) {
	log := logger.Named("node")

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	database, err := db.OpenWithMigrations(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, db: database, logger: log}

	n.key, err = identity.LoadOrGenerate(database, log)
	if err != nil {
		n.Close()
		return nil, err
	}

	langs := agent.DefaultLanguages(log)
	if networked {
		n.carrier, err = newCarrier(cfg, n.key.DID(), log)
		if err != nil {
			n.Close()
			return nil, err
		}
		if err := n.startCollaborators(ctx, langs); err != nil {
			n.Close()
			return nil, err
		}
	} else {
		n.carrier = carrier.NewBus().Attach(n.key.DID(), log)
	}

	n.agent = agent.New(n.key, n.carrier,
		agent.WithLogger(log),
		agent.WithPersister(persist.NewSQLStore(database, log)),
		agent.WithRecords(persist.NewRegistry(database)),
		agent.WithLanguages(langs),
	)
	if err := n.agent.Restore(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// startCollaborators connects the ledger and the sandbox and registers
// the languages they back.
func (n *node) startCollaborators(ctx context.Context, langs *language.Registry) error {
	if n.cfg.Ledger.URL != "" {
		opts := []ledger.ZomeOption{ledger.WithZomeLogger(n.logger)}
		if n.cfg.Ledger.RatePerSecond > 0 {
			opts = append(opts, ledger.WithRateLimit(n.cfg.Ledger.RatePerSecond, n.cfg.Ledger.Burst))
		}
		client, err := ledger.DialZome(ctx, n.cfg.Ledger.URL, opts...)
		if err != nil {
			return err
		}
		n.ledger = client
	} else {
		n.ledger = ledger.NewMemoryLedger()
	}
	if err := langs.Register(language.NewLedgerBacked(n.ledger, n.key.DID(), language.WithLogger(n.logger))); err != nil {
		return err
	}

	if !n.cfg.Sandbox.Enabled {
		return nil
	}
	n.sandbox = sandbox.NewHost(sandbox.Config{
		Binary:      n.cfg.Sandbox.Binary,
		CallTimeout: time.Duration(n.cfg.Sandbox.CallTimeoutSeconds) * time.Second,
		Permissions: n.cfg.Sandbox.Permissions,
	}, sandbox.Capabilities{Signer: n.key, Ledger: n.ledger}, n.logger)
	if err := n.sandbox.Start(ctx); err != nil {
		return err
	}

	handles := make([]string, 0, len(n.cfg.Sandbox.Modules))
	for handle := range n.cfg.Sandbox.Modules {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	for _, handle := range handles {
		lang, err := n.sandbox.LoadLanguage(ctx, handle, n.cfg.Sandbox.Modules[handle], "")
		if err != nil {
			return errors.Wrapf(err, "sandbox module %s", handle)
		}
		if err := langs.Register(lang); err != nil {
			return errors.Wrapf(err, "sandbox module %s", handle)
		}
	}
	return nil
}

// joinConfigured joins every configured neighbourhood not yet joined.
func (n *node) joinConfigured(ctx context.Context, entries []am.NeighbourhoodEntry) {
	for _, entry := range entries {
		lang, err := n.agent.Languages().Resolve(entry.Language)
		if err != nil {
			n.logger.Warnw("Skipping neighbourhood with unknown language",
				logger.FieldNeighbourhood, entry.URL,
				logger.FieldLanguage, entry.Language,
				logger.FieldError, err)
			continue
		}
		if _, err := n.agent.Neighbourhoods().Join(ctx, entry.URL, lang); err != nil {
			n.logger.Warnw("Join failed", logger.FieldNeighbourhood, entry.URL, logger.FieldError, err)
		}
	}
}

// Close releases everything the node opened.
func (n *node) Close() error {
	var errs error
	if n.carrier != nil {
		errs = errors.CombineErrors(errs, n.carrier.Close())
	}
	if n.sandbox != nil {
		errs = errors.CombineErrors(errs, n.sandbox.Close())
	}
	if zc, ok := n.ledger.(*ledger.ZomeClient); ok {
		errs = errors.CombineErrors(errs, zc.Close())
	}
	if n.db != nil {
		errs = errors.CombineErrors(errs, n.db.Close())
	}
	return errs
}

// newCarrier builds the configured transport for did.
func newCarrier(cfg *am.Config, did string, log *zap.SugaredLogger) (carrier.Carrier, error) {
	switch cfg.Carrier.Kind {
	case am.CarrierBus:
		log.Warnw("Bus carrier only reaches agents in this process")
		return carrier.NewBus().Attach(did, log), nil
	case am.CarrierFile:
		return carrier.NewFileCarrier(did, cfg.Carrier.File.Path, carrier.WithFileLogger(log))
	case am.CarrierInbox:
		return carrier.NewInboxCarrier(did, cfg.Carrier.Inbox.Dir, carrier.WithFileLogger(log))
	case am.CarrierWebSocket:
		ws := carrier.NewWebSocketCarrier(did, log)
		if err := ws.Listen(cfg.Carrier.WebSocket.Listen); err != nil {
			return nil, err
		}
		return ws, nil
	}
	return nil, errors.Newf("unknown carrier kind %q", cfg.Carrier.Kind)
}
