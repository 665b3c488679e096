package grocery

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukerupert/satchel/internal/model"
	"github.com/dukerupert/satchel/internal/store"
	ws "github.com/dukerupert/satchel/internal/websocket"
)

// Service is the UI-facing mutation surface. Every mutation writes the local
// record and appends its outbox intent inside one transaction, so a crash can
// never leave a record without its pending sync entry, then nudges the sync
// engine.
//
// Validation errors surface synchronously. Sync errors never do; the UI
// observes dirty flags and hub messages instead.
type Service struct {
	db     *sql.DB
	lists  *store.ListStore
	items  *store.ItemStore
	outbox *store.OutboxStore
	hub    *ws.Hub
	nudge  func()
	logger *slog.Logger
}

// NewService creates the mutation service. The nudge callback is invoked
// after every committed mutation (wire it to the sync engine).
func NewService(db *sql.DB, lists *store.ListStore, items *store.ItemStore, outbox *store.OutboxStore, hub *ws.Hub, nudge func(), logger *slog.Logger) *Service {
	if nudge == nil {
		nudge = func() {}
	}
	return &Service{
		db:     db,
		lists:  lists,
		items:  items,
		outbox: outbox,
		hub:    hub,
		nudge:  nudge,
		logger: logger,
	}
}

// CreateList creates a list locally and queues its remote creation.
func (s *Service) CreateList(name string) (*model.List, error) {
	localID := uuid.NewString()

	var created *model.List
	err := s.inTx(func(tx *sql.Tx) error {
		l, err := s.lists.WithTx(tx).Create(localID, name)
		if err != nil {
			return err
		}
		created = l
		return s.enqueue(tx, model.OpListCreate, model.ListCreatePayload{
			ListLocalID: localID,
			Name:        l.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	s.broadcast("list", "created", localID)
	s.nudge()
	return created, nil
}

// RenameList renames a list locally and queues the remote rename. Nil result
// means the list does not exist (or is deleted).
func (s *Service) RenameList(localID, name string) (*model.List, error) {
	var renamed *model.List
	err := s.inTx(func(tx *sql.Tx) error {
		l, err := s.lists.WithTx(tx).Rename(localID, name)
		if err != nil {
			return err
		}
		if l == nil {
			return nil
		}
		renamed = l
		return s.enqueue(tx, model.OpListRename, model.ListRenamePayload{
			ListLocalID: localID,
			Name:        l.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	if renamed == nil {
		return nil, nil
	}

	s.broadcast("list", "renamed", localID)
	s.nudge()
	return renamed, nil
}

// DeleteList tombstones a list (and its items) and queues the remote delete.
func (s *Service) DeleteList(localID string) error {
	err := s.inTx(func(tx *sql.Tx) error {
		if err := s.lists.WithTx(tx).SoftDelete(localID); err != nil {
			return err
		}
		return s.enqueue(tx, model.OpListDelete, model.ListDeletePayload{ListLocalID: localID})
	})
	if err != nil {
		return err
	}

	s.broadcast("list", "deleted", localID)
	s.nudge()
	return nil
}

// Lists returns the non-deleted lists.
func (s *Service) Lists() ([]model.List, error) {
	return s.lists.Lists()
}

// AddItem adds an item to a list and queues the remote add. The outbox
// payload snapshots the full record so the entry stays self-contained even if
// the record changes before it drains.
func (s *Service) AddItem(listLocalID string, in store.ItemInput) (*model.Item, error) {
	localID := uuid.NewString()
	if in.Category == "" {
		in.Category = Categorize(in.Text)
	}

	var added *model.Item
	err := s.inTx(func(tx *sql.Tx) error {
		it, err := s.items.WithTx(tx).Add(localID, listLocalID, in)
		if err != nil {
			return err
		}
		added = it
		return s.enqueue(tx, model.OpItemAdd, itemPayload(it))
	})
	if err != nil {
		return nil, err
	}

	s.broadcast("item", "added", localID)
	s.nudge()
	return added, nil
}

// UpdateItem replaces an item's editable fields and queues the remote update.
// Nil result means the item does not exist (or is deleted).
func (s *Service) UpdateItem(localID string, in store.ItemInput) (*model.Item, error) {
	if in.Category == "" {
		in.Category = Categorize(in.Text)
	}

	var updated *model.Item
	err := s.inTx(func(tx *sql.Tx) error {
		it, err := s.items.WithTx(tx).Update(localID, in)
		if err != nil {
			return err
		}
		if it == nil {
			return nil
		}
		updated = it
		p := itemPayload(it)
		return s.enqueue(tx, model.OpItemUpdate, model.ItemUpdatePayload(p))
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	s.broadcast("item", "updated", localID)
	s.nudge()
	return updated, nil
}

// DeleteItem tombstones an item and queues the remote delete.
func (s *Service) DeleteItem(localID string) error {
	var listLocalID string
	err := s.inTx(func(tx *sql.Tx) error {
		items := s.items.WithTx(tx)
		it, err := items.Get(localID)
		if err != nil {
			return err
		}
		if it == nil {
			return nil
		}
		listLocalID = it.ListLocalID

		if err := items.SoftDelete(localID); err != nil {
			return err
		}
		return s.enqueue(tx, model.OpItemDelete, model.ItemDeletePayload{
			ItemLocalID: localID,
			ListLocalID: it.ListLocalID,
		})
	})
	if err != nil {
		return err
	}
	if listLocalID == "" {
		return nil
	}

	s.broadcast("item", "deleted", localID)
	s.nudge()
	return nil
}

// Items returns a list's non-deleted items, unchecked first, newest change
// first within each group.
func (s *Service) Items(listLocalID string) ([]model.Item, error) {
	return s.items.ListByList(listLocalID)
}

func (s *Service) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) enqueue(tx *sql.Tx, op model.Operation, payload any) error {
	data, err := model.EncodePayload(payload)
	if err != nil {
		return err
	}
	if _, err := s.outbox.WithTx(tx).Enqueue(op, data); err != nil {
		return err
	}
	return nil
}

func (s *Service) broadcast(entity, action, localID string) {
	if s.hub != nil {
		s.hub.Broadcast(ws.NewMessage(entity, action, localID, nil))
	}
}

func itemPayload(it *model.Item) model.ItemAddPayload {
	return model.ItemAddPayload{
		ItemLocalID:   it.LocalID,
		ListLocalID:   it.ListLocalID,
		CatalogTermID: it.CatalogTermID,
		Text:          it.Text,
		Quantity:      it.Quantity,
		Unit:          it.Unit,
		Checked:       it.Checked,
		Category:      it.Category,
		Extra:         it.Extra,
	}
}
