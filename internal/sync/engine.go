package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/satchel/internal/connectivity"
	"github.com/dukerupert/satchel/internal/model"
	"github.com/dukerupert/satchel/internal/remote"
	"github.com/dukerupert/satchel/internal/store"
	ws "github.com/dukerupert/satchel/internal/websocket"
)

const defaultBatchSize = 50

// Engine drains the outbox in order, translates each intent into a remote
// call, and finalizes, defers or permanently fails the entry, updating the
// local identity and dirty state as a side effect.
type Engine struct {
	lists  *store.ListStore
	items  *store.ItemStore
	outbox *store.OutboxStore
	meta   *store.MetaStore
	client remote.Client
	creds  func() remote.Credentials
	gate   *connectivity.Gate
	hub    *ws.Hub
	logger *slog.Logger

	batchSize int
	interval  time.Duration

	// importBackoff overrides the guest import retry schedule; nil uses the
	// default exponential schedule.
	importBackoff retry.Backoff

	// drainMu makes DrainOnce mutually exclusive with itself. Concurrent
	// drains would corrupt tries/backoff bookkeeping and could apply
	// dependent operations out of causal order.
	drainMu sync.Mutex
	kick    chan struct{}
}

// Config carries the engine's tunables.
type Config struct {
	BatchSize     int           // entries per drain pass
	DrainInterval time.Duration // optional timer trigger; 0 disables
}

// NewEngine creates a sync engine. Credentials are resolved per call through
// the creds func, never held as engine state.
func NewEngine(db Stores, client remote.Client, creds func() remote.Credentials, gate *connectivity.Gate, hub *ws.Hub, cfg Config, logger *slog.Logger) *Engine {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Engine{
		lists:     db.Lists,
		items:     db.Items,
		outbox:    db.Outbox,
		meta:      db.Meta,
		client:    client,
		creds:     creds,
		gate:      gate,
		hub:       hub,
		logger:    logger,
		batchSize: cfg.BatchSize,
		interval:  cfg.DrainInterval,
		kick:      make(chan struct{}, 1),
	}
}

// Stores bundles the engine's store dependencies.
type Stores struct {
	Lists  *store.ListStore
	Items  *store.ItemStore
	Outbox *store.OutboxStore
	Meta   *store.MetaStore
}

// Nudge requests a drain pass. Overlapping nudges coalesce: the channel holds
// at most one pending request.
func (e *Engine) Nudge() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run processes nudges (and the optional timer) until the context is
// canceled. Register e.Nudge as the gate's open-transition callback so
// offline to online flips trigger a pass.
func (e *Engine) Run(ctx context.Context) {
	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		case <-tick:
		}

		if err := e.DrainOnce(ctx); err != nil {
			e.logger.Error("drain pass", "error", err)
		}
	}
}

// DrainOnce runs a single drain pass: while the gate is open, fetch eligible
// pending entries and process them sequentially. A transient failure defers
// its entry and stops the pass so a later entry never runs ahead of an
// earlier one still pending retry. Reentrant calls return immediately.
func (e *Engine) DrainOnce(ctx context.Context) error {
	if !e.drainMu.TryLock() {
		return nil
	}
	defer e.drainMu.Unlock()

	if !e.gate.Open() {
		return nil
	}

	entries, err := e.outbox.PeekPending(e.batchSize)
	if err != nil {
		return fmt.Errorf("peek pending: %w", err)
	}

	for i := range entries {
		entry := &entries[i]
		cont, err := e.processEntry(ctx, entry)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// processEntry handles one outbox entry. The returned bool reports whether
// the pass may continue to the next entry; the returned error is a local
// store failure, which aborts the pass.
func (e *Engine) processEntry(ctx context.Context, entry *model.OutboxEntry) (bool, error) {
	payload, err := model.DecodePayload(entry.Operation, entry.Payload)
	if err != nil {
		// Corrupt or unknown payload: park it for the operator, keep going.
		e.logger.Error("corrupt outbox payload", "id", entry.ID, "operation", entry.Operation, "error", err)
		if err := e.outbox.MarkFailedFinal(entry.ID, err); err != nil {
			return false, err
		}
		e.broadcastOutbox(entry.ID, "failed", err)
		return true, nil
	}

	var callErr error
	switch p := payload.(type) {
	case *model.ListCreatePayload:
		callErr = e.applyListCreate(ctx, p)
	case *model.ListRenamePayload:
		callErr = e.applyListRename(ctx, p)
	case *model.ListDeletePayload:
		callErr = e.applyListDelete(ctx, p)
	case *model.ItemAddPayload:
		callErr = e.applyItemAdd(ctx, p)
	case *model.ItemUpdatePayload:
		callErr = e.applyItemUpdate(ctx, p)
	case *model.ItemDeletePayload:
		callErr = e.applyItemDelete(ctx, p)
	}

	if callErr == nil {
		if err := e.outbox.MarkDone(entry.ID); err != nil {
			return false, err
		}
		e.broadcastOutbox(entry.ID, "done", nil)
		return true, nil
	}

	var corrupt *model.StoreCorruptionError
	if errors.As(callErr, &corrupt) {
		return false, callErr
	}

	if isTransient(callErr) {
		e.logger.Info("deferring outbox entry", "id", entry.ID, "operation", entry.Operation, "tries", entry.Tries, "error", callErr)
		if err := e.outbox.Defer(entry.ID, callErr, entry.Tries); err != nil {
			return false, err
		}
		if err := e.meta.Set(store.MetaLastSyncError, callErr.Error()); err != nil {
			e.logger.Error("record last sync error", "error", err)
		}
		e.broadcastOutbox(entry.ID, "deferred", callErr)
		// Strict FIFO: stop the pass rather than let later entries overtake.
		return false, nil
	}

	e.logger.Warn("outbox entry failed permanently", "id", entry.ID, "operation", entry.Operation, "error", callErr)
	if err := e.outbox.MarkFailedFinal(entry.ID, callErr); err != nil {
		return false, err
	}
	e.broadcastOutbox(entry.ID, "failed", callErr)
	return true, nil
}

// errUnsyncedDependency marks an entry whose prerequisite never obtained a
// server id (its create must have failed permanently). Permanent by
// classification: retrying cannot supply the missing id.
var errUnsyncedDependency = errors.New("dependent record has no server id")

func (e *Engine) applyListCreate(ctx context.Context, p *model.ListCreatePayload) error {
	l, err := e.lists.Get(p.ListLocalID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil // record gone; nothing to reconcile
	}
	if l.ServerID != "" {
		return nil // replay after interrupted finalize; already attached
	}

	serverID, err := e.client.CreateList(ctx, e.creds(), p.Name)
	if err != nil {
		return err
	}
	if err := e.lists.AttachServerID(p.ListLocalID, serverID); err != nil {
		return err
	}
	e.broadcastRecord("list", "synced", p.ListLocalID)
	return nil
}

func (e *Engine) applyListRename(ctx context.Context, p *model.ListRenamePayload) error {
	l, err := e.lists.Get(p.ListLocalID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	if l.ServerID == "" {
		return errUnsyncedDependency
	}

	if err := e.client.RenameList(ctx, e.creds(), l.ServerID, p.Name); err != nil {
		// A rename against a remotely-missing list needs user-visible
		// reconciliation, not silent retry: 404 stays permanent here.
		return err
	}
	if err := e.lists.MarkClean(p.ListLocalID); err != nil {
		return err
	}
	e.broadcastRecord("list", "synced", p.ListLocalID)
	return nil
}

func (e *Engine) applyListDelete(ctx context.Context, p *model.ListDeletePayload) error {
	l, err := e.lists.Get(p.ListLocalID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil // already purged
	}

	if l.ServerID != "" {
		err := e.client.DeleteList(ctx, e.creds(), l.ServerID)
		if err != nil && !isNotFound(err) {
			return err
		}
		// 404 means the remote record is already gone: idempotent delete.
	}

	if err := e.lists.Purge(p.ListLocalID); err != nil {
		return err
	}
	e.broadcastRecord("list", "purged", p.ListLocalID)
	return nil
}

func (e *Engine) applyItemAdd(ctx context.Context, p *model.ItemAddPayload) error {
	it, err := e.items.Get(p.ItemLocalID)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}
	if it.ServerID != "" {
		// Replay after an interrupted finalize: the server already has the
		// record, make sure the local flag agrees.
		return e.items.MarkClean(p.ItemLocalID)
	}

	listServerID, err := e.resolveListServerID(p.ListLocalID)
	if err != nil {
		return err
	}

	serverID, err := e.client.AddItem(ctx, e.creds(), listServerID, remote.ItemPayload{
		Text:     p.Text,
		TermID:   p.CatalogTermID,
		Quantity: p.Quantity,
		Unit:     string(p.Unit),
		Checked:  p.Checked,
		Category: p.Category,
		Extra:    p.Extra,
	})
	if err != nil {
		return err
	}
	if err := e.items.AttachServerID(p.ItemLocalID, serverID); err != nil {
		return err
	}
	if err := e.items.MarkClean(p.ItemLocalID); err != nil {
		return err
	}
	e.broadcastRecord("item", "synced", p.ItemLocalID)
	return nil
}

func (e *Engine) applyItemUpdate(ctx context.Context, p *model.ItemUpdatePayload) error {
	it, err := e.items.Get(p.ItemLocalID)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}
	if it.ServerID == "" {
		return errUnsyncedDependency
	}

	listServerID, err := e.resolveListServerID(p.ListLocalID)
	if err != nil {
		return err
	}

	err = e.client.UpdateItem(ctx, e.creds(), listServerID, it.ServerID, remote.ItemPayload{
		Text:     p.Text,
		TermID:   p.CatalogTermID,
		Quantity: p.Quantity,
		Unit:     string(p.Unit),
		Checked:  p.Checked,
		Category: p.Category,
		Extra:    p.Extra,
	})
	if err != nil {
		return err
	}
	if err := e.items.MarkClean(p.ItemLocalID); err != nil {
		return err
	}
	e.broadcastRecord("item", "synced", p.ItemLocalID)
	return nil
}

func (e *Engine) applyItemDelete(ctx context.Context, p *model.ItemDeletePayload) error {
	it, err := e.items.Get(p.ItemLocalID)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}

	if it.ServerID != "" {
		listServerID, err := e.resolveListServerID(p.ListLocalID)
		if err != nil {
			return err
		}
		err = e.client.DeleteItem(ctx, e.creds(), listServerID, it.ServerID)
		if err != nil && !isNotFound(err) {
			return err
		}
	}

	if err := e.items.Purge(p.ItemLocalID); err != nil {
		return err
	}
	e.broadcastRecord("item", "purged", p.ItemLocalID)
	return nil
}

// resolveListServerID re-reads the owning list from current store state
// rather than trusting the payload snapshot: an earlier entry in the same
// drain may have just supplied the id.
func (e *Engine) resolveListServerID(listLocalID string) (string, error) {
	l, err := e.lists.Get(listLocalID)
	if err != nil {
		return "", err
	}
	if l == nil || l.ServerID == "" {
		return "", errUnsyncedDependency
	}
	return l.ServerID, nil
}

// isTransient reports whether an error is a retryable availability failure:
// anything without an HTTP status (transport error, timeout, cancellation).
func isTransient(err error) bool {
	var se *remote.StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, errUnsyncedDependency) {
		return false
	}
	return true
}

// isNotFound reports whether the remote rejected the call with a 404.
func isNotFound(err error) bool {
	var se *remote.StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func (e *Engine) broadcastRecord(entity, action, localID string) {
	if e.hub != nil {
		e.hub.Broadcast(ws.NewMessage(entity, action, localID, nil))
	}
}

func (e *Engine) broadcastOutbox(id int64, action string, cause error) {
	if e.hub == nil {
		return
	}
	extra := map[string]any{"id": id}
	if cause != nil {
		extra["error"] = cause.Error()
	}
	e.hub.Broadcast(ws.NewMessage("outbox", action, "", extra))
}
