package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/satchel/internal/remote"
	"github.com/dukerupert/satchel/internal/store"
)

// ErrAlreadyImported reports that this device already completed its guest
// import.
var ErrAlreadyImported = errors.New("guest import already completed")

// ImportGuest uploads the entire pre-authentication local dataset in one bulk
// call and merges the returned identity maps back into the local store.
// Records absent from the response maps (rejected server-side, for example as
// duplicates) are left dirty so the ordinary outbox path retries them; the
// import is a best-effort bulk accelerator, not the only road to consistency.
//
// Invoke exactly once, when the anonymous session becomes an authenticated
// one. A persisted meta flag makes replays no-ops.
func (e *Engine) ImportGuest(ctx context.Context) error {
	done, err := e.meta.Get(store.MetaGuestImportDone)
	if err != nil {
		return err
	}
	if done == "true" {
		return ErrAlreadyImported
	}

	req, listCount, itemCount, err := e.buildGuestImport()
	if err != nil {
		return err
	}

	var resp *remote.GuestImportResponse
	if listCount > 0 {
		// The bulk call is not an outbox entry, so the outbox backoff does
		// not cover it; retry transient transport failures in-process.
		backoff := e.importBackoff
		if backoff == nil {
			backoff = retry.WithMaxRetries(4, retry.NewExponential(time.Second))
		}
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			var callErr error
			resp, callErr = e.client.ImportGuest(ctx, e.creds(), *req)
			if callErr != nil && isTransient(callErr) {
				return retry.RetryableError(callErr)
			}
			return callErr
		})
		if err != nil {
			return fmt.Errorf("guest import call: %w", err)
		}

		if err := e.applyGuestImport(resp); err != nil {
			return err
		}
	}

	if err := e.meta.Set(store.MetaGuestImportDone, "true"); err != nil {
		return err
	}

	e.logger.Info("guest import completed",
		"lists", listCount, "items", itemCount,
		"lists_mapped", mapLen(resp, true), "items_mapped", mapLen(resp, false))
	e.broadcastRecord("import", "completed", "")
	e.Nudge()
	return nil
}

func (e *Engine) buildGuestImport() (*remote.GuestImportRequest, int, int, error) {
	lists, err := e.lists.Lists()
	if err != nil {
		return nil, 0, 0, err
	}

	req := &remote.GuestImportRequest{}
	itemCount := 0
	for _, l := range lists {
		items, err := e.items.ListByList(l.LocalID)
		if err != nil {
			return nil, 0, 0, err
		}

		gl := remote.GuestImportList{
			ListLocalID: l.LocalID,
			Name:        l.Name,
			Items:       make([]remote.GuestImportItem, 0, len(items)),
		}
		for _, it := range items {
			gl.Items = append(gl.Items, remote.GuestImportItem{
				ItemLocalID: it.LocalID,
				Text:        it.Text,
				TermID:      it.CatalogTermID,
				Quantity:    it.Quantity,
				Unit:        string(it.Unit),
				Checked:     it.Checked,
				Category:    it.Category,
				Extra:       it.Extra,
			})
			itemCount++
		}
		req.Lists = append(req.Lists, gl)
	}
	return req, len(req.Lists), itemCount, nil
}

func (e *Engine) applyGuestImport(resp *remote.GuestImportResponse) error {
	for localID, serverID := range resp.ListIDMap {
		if err := e.lists.AttachServerID(localID, serverID); err != nil {
			return err
		}
		e.broadcastRecord("list", "synced", localID)
	}
	for localID, serverID := range resp.ItemIDMap {
		if err := e.items.AttachServerID(localID, serverID); err != nil {
			return err
		}
		if err := e.items.MarkClean(localID); err != nil {
			return err
		}
		e.broadcastRecord("item", "synced", localID)
	}
	return nil
}

func mapLen(resp *remote.GuestImportResponse, lists bool) int {
	if resp == nil {
		return 0
	}
	if lists {
		return len(resp.ListIDMap)
	}
	return len(resp.ItemIDMap)
}
