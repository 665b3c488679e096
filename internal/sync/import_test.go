package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/satchel/internal/model"
	"github.com/dukerupert/satchel/internal/store"
)

func seedGuestData(t *testing.T, f *fixture) (listIDs []string, itemIDs []string) {
	t.Helper()
	names := map[string][]string{
		"Groceries": {"milk", "eggs", "bread"},
		"Hardware":  {"screws", "tape"},
		"Party":     {"chips", "soda"},
	}
	for _, name := range []string{"Groceries", "Hardware", "Party"} {
		l, err := f.svc.CreateList(name)
		if err != nil {
			t.Fatalf("create list %s: %v", name, err)
		}
		listIDs = append(listIDs, l.LocalID)
		for _, text := range names[name] {
			it, err := f.svc.AddItem(l.LocalID, store.ItemInput{Text: text})
			if err != nil {
				t.Fatalf("add item %s: %v", text, err)
			}
			itemIDs = append(itemIDs, it.LocalID)
		}
	}
	return listIDs, itemIDs
}

func TestImportGuest(t *testing.T) {
	f := setupEngine(t)
	listIDs, itemIDs := seedGuestData(t, f)

	if err := f.engine.ImportGuest(context.Background()); err != nil {
		t.Fatalf("import guest: %v", err)
	}

	for _, id := range listIDs {
		l, _ := f.lists.Get(id)
		if l.ServerID == "" || l.Dirty {
			t.Errorf("list %s = %+v, want mapped and clean", id, l)
		}
	}
	for _, id := range itemIDs {
		it, _ := f.items.Get(id)
		if it.ServerID == "" || it.Dirty {
			t.Errorf("item %s = %+v, want mapped and clean", id, it)
		}
		if it.ListServerID == "" {
			t.Errorf("item %s missing propagated list server id", id)
		}
	}

	done, _ := f.meta.Get(store.MetaGuestImportDone)
	if done != "true" {
		t.Errorf("import flag = %q, want %q", done, "true")
	}
	if n := f.client.count("ImportGuest"); n != 1 {
		t.Errorf("ImportGuest calls = %d, want 1", n)
	}
}

func TestImportGuestRunsOnce(t *testing.T) {
	f := setupEngine(t)
	seedGuestData(t, f)

	if err := f.engine.ImportGuest(context.Background()); err != nil {
		t.Fatalf("first import: %v", err)
	}
	err := f.engine.ImportGuest(context.Background())
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("second import err = %v, want ErrAlreadyImported", err)
	}
	if n := f.client.count("ImportGuest"); n != 1 {
		t.Errorf("ImportGuest calls = %d, want 1", n)
	}
}

func TestImportGuestEmptyDataset(t *testing.T) {
	f := setupEngine(t)

	if err := f.engine.ImportGuest(context.Background()); err != nil {
		t.Fatalf("import empty: %v", err)
	}
	if n := f.client.count("ImportGuest"); n != 0 {
		t.Errorf("ImportGuest calls = %d, nothing to upload means no call", n)
	}
	done, _ := f.meta.Get(store.MetaGuestImportDone)
	if done != "true" {
		t.Errorf("flag = %q, empty import still completes", done)
	}
}

func TestImportGuestRetriesTransientFailure(t *testing.T) {
	f := setupEngine(t)
	seedGuestData(t, f)

	f.engine.importBackoff = retry.WithMaxRetries(4, retry.NewConstant(time.Millisecond))
	f.client.failNext("ImportGuest",
		errors.New("connection reset"),
		errors.New("connection reset"),
	)

	if err := f.engine.ImportGuest(context.Background()); err != nil {
		t.Fatalf("import with transient failures: %v", err)
	}
	if n := f.client.count("ImportGuest"); n != 3 {
		t.Errorf("ImportGuest calls = %d, want 3 (two failures + success)", n)
	}
}

// A record the server rejects from the bulk import stays dirty and reaches
// consistency through its ordinary outbox entry instead.
func TestImportGuestPartialRejection(t *testing.T) {
	f := setupEngine(t)
	_, itemIDs := seedGuestData(t, f)

	rejected := itemIDs[3]
	f.client.rejectImport = map[string]bool{rejected: true}

	if err := f.engine.ImportGuest(context.Background()); err != nil {
		t.Fatalf("import guest: %v", err)
	}

	for _, id := range itemIDs {
		it, _ := f.items.Get(id)
		if id == rejected {
			if it.ServerID != "" || !it.Dirty {
				t.Errorf("rejected item = %+v, want dirty and unmapped", it)
			}
			continue
		}
		if it.ServerID == "" || it.Dirty {
			t.Errorf("item %s = %+v, want mapped and clean", id, it)
		}
	}

	// The guest-era outbox entries are still queued; draining them re-attempts
	// exactly the rejected item because everything else already has its id.
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if n := f.client.count("CreateList"); n != 0 {
		t.Errorf("CreateList calls = %d, imported lists must not be recreated", n)
	}
	if n := f.client.count("AddItem"); n != 1 {
		t.Errorf("AddItem calls = %d, want exactly the rejected item", n)
	}

	it, _ := f.items.Get(rejected)
	if it.ServerID == "" || it.Dirty {
		t.Errorf("rejected item after drain = %+v, want synced", it)
	}
	for _, s := range f.entryStatuses(t) {
		if s != model.StatusDone {
			t.Fatalf("statuses = %v, want all done", f.entryStatuses(t))
		}
	}
}
