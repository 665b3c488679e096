package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdsync "sync"
	"testing"
	"time"

	"github.com/dukerupert/satchel/internal/connectivity"
	"github.com/dukerupert/satchel/internal/database"
	"github.com/dukerupert/satchel/internal/grocery"
	"github.com/dukerupert/satchel/internal/model"
	"github.com/dukerupert/satchel/internal/remote"
	"github.com/dukerupert/satchel/internal/store"
)

// fakeClient answers remote calls with generated ids and lets tests queue
// failures per operation.
type fakeClient struct {
	mu           stdsync.Mutex
	calls        []string
	failures     map[string][]error
	nextID       int
	rejectImport map[string]bool // item local ids omitted from import maps
}

func newFakeClient() *fakeClient {
	return &fakeClient{failures: map[string][]error{}}
}

func (f *fakeClient) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeClient) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	q := f.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	f.failures[op] = q[1:]
	return err
}

func (f *fakeClient) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeClient) newID(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("srv-%s-%d", kind, f.nextID)
}

func (f *fakeClient) CreateList(ctx context.Context, creds remote.Credentials, name string) (string, error) {
	if err := f.record("CreateList"); err != nil {
		return "", err
	}
	return f.newID("list"), nil
}

func (f *fakeClient) RenameList(ctx context.Context, creds remote.Credentials, serverID, name string) error {
	return f.record("RenameList")
}

func (f *fakeClient) DeleteList(ctx context.Context, creds remote.Credentials, serverID string) error {
	return f.record("DeleteList")
}

func (f *fakeClient) AddItem(ctx context.Context, creds remote.Credentials, listServerID string, item remote.ItemPayload) (string, error) {
	if err := f.record("AddItem"); err != nil {
		return "", err
	}
	if listServerID == "" {
		return "", fmt.Errorf("add item called without list server id")
	}
	return f.newID("item"), nil
}

func (f *fakeClient) UpdateItem(ctx context.Context, creds remote.Credentials, listServerID, itemServerID string, patch remote.ItemPayload) error {
	return f.record("UpdateItem")
}

func (f *fakeClient) DeleteItem(ctx context.Context, creds remote.Credentials, listServerID, itemServerID string) error {
	return f.record("DeleteItem")
}

func (f *fakeClient) ImportGuest(ctx context.Context, creds remote.Credentials, req remote.GuestImportRequest) (*remote.GuestImportResponse, error) {
	if err := f.record("ImportGuest"); err != nil {
		return nil, err
	}
	resp := &remote.GuestImportResponse{
		ListIDMap: map[string]string{},
		ItemIDMap: map[string]string{},
	}
	f.mu.Lock()
	reject := f.rejectImport
	f.mu.Unlock()
	for _, l := range req.Lists {
		resp.ListIDMap[l.ListLocalID] = f.newID("list")
		for _, it := range l.Items {
			if reject[it.ItemLocalID] {
				continue
			}
			resp.ItemIDMap[it.ItemLocalID] = f.newID("item")
		}
	}
	return resp, nil
}

func (f *fakeClient) Health(ctx context.Context) error { return nil }

type fixture struct {
	db     *sql.DB
	lists  *store.ListStore
	items  *store.ItemStore
	outbox *store.OutboxStore
	meta   *store.MetaStore
	svc    *grocery.Service
	client *fakeClient
	engine *Engine
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func setupEngine(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	f := &fixture{
		db:     db,
		lists:  store.NewListStore(db),
		items:  store.NewItemStore(db),
		outbox: store.NewOutboxStore(db),
		meta:   store.NewMetaStore(db),
		client: newFakeClient(),
	}

	gate := connectivity.NewGate(f.client, time.Minute, logger)
	gate.SetHealthy(true)

	f.engine = NewEngine(
		Stores{Lists: f.lists, Items: f.items, Outbox: f.outbox, Meta: f.meta},
		f.client,
		func() remote.Credentials { return remote.Credentials{Token: "test"} },
		gate, nil, Config{}, logger,
	)
	f.svc = grocery.NewService(db, f.lists, f.items, f.outbox, nil, nil, logger)
	return f
}

// makeRetryEligible clears pending backoff schedules so the next drain pass
// does not have to wait out real time.
func (f *fixture) makeRetryEligible(t *testing.T) {
	t.Helper()
	if _, err := f.db.Exec(`UPDATE outbox SET next_attempt_at = NULL WHERE status = 'pending'`); err != nil {
		t.Fatalf("clear backoff: %v", err)
	}
}

func (f *fixture) entryStatuses(t *testing.T) []model.Status {
	t.Helper()
	rows, err := f.db.Query(`SELECT status FROM outbox ORDER BY id ASC`)
	if err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	defer rows.Close()
	var statuses []model.Status
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("scan status: %v", err)
		}
		statuses = append(statuses, model.Status(s))
	}
	return statuses
}

func TestDrainCreateList(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, _ := f.lists.Get(l.LocalID)
	if got.ServerID == "" {
		t.Error("list should have a server id after drain")
	}
	if got.Dirty {
		t.Error("list should be clean after drain")
	}
	if statuses := f.entryStatuses(t); len(statuses) != 1 || statuses[0] != model.StatusDone {
		t.Errorf("outbox statuses = %v, want [done]", statuses)
	}
}

// A list create and its item's add enqueued while offline drain in order: the
// add resolves the server id the create obtained moments earlier in the same
// pass.
func TestDrainResolvesDependencyOrder(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	it, err := f.svc.AddItem(l.LocalID, store.ItemInput{Text: "milk"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	gotItem, _ := f.items.Get(it.LocalID)
	if gotItem.ServerID == "" || gotItem.Dirty {
		t.Errorf("item = %+v, want synced and clean", gotItem)
	}
	gotList, _ := f.lists.Get(l.LocalID)
	if gotItem.ListServerID != gotList.ServerID {
		t.Errorf("item list server id = %q, want %q", gotItem.ListServerID, gotList.ServerID)
	}
	for _, s := range f.entryStatuses(t) {
		if s != model.StatusDone {
			t.Errorf("statuses = %v, want all done", f.entryStatuses(t))
			break
		}
	}
}

func TestDrainTransientFailureStopsPass(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := f.svc.AddItem(l.LocalID, store.ItemInput{Text: "milk"}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	f.client.failNext("CreateList", errors.New("dial tcp: connection refused"))

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// The later entry must not overtake the deferred one.
	if n := f.client.count("AddItem"); n != 0 {
		t.Errorf("AddItem calls = %d, want 0 while create is deferred", n)
	}

	statuses := f.entryStatuses(t)
	if len(statuses) != 2 || statuses[0] != model.StatusPending || statuses[1] != model.StatusPending {
		t.Fatalf("statuses = %v, want both still pending", statuses)
	}

	first, err := f.outbox.Get(1)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if first.Tries != 1 || first.NextAttemptAt == 0 {
		t.Errorf("deferred entry = %+v, want tries=1 with a scheduled retry", first)
	}

	lastErr, _ := f.meta.Get(store.MetaLastSyncError)
	if lastErr == "" {
		t.Error("last sync error should be recorded")
	}

	// Recovery: next pass completes both.
	f.makeRetryEligible(t)
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	for _, s := range f.entryStatuses(t) {
		if s != model.StatusDone {
			t.Fatalf("statuses after recovery = %v, want all done", f.entryStatuses(t))
		}
	}
}

func TestDrainPermanentFailureContinues(t *testing.T) {
	f := setupEngine(t)

	bad, err := f.svc.CreateList("Rejected")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := f.svc.AddItem(bad.LocalID, store.ItemInput{Text: "milk"}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	good, err := f.svc.CreateList("Accepted")
	if err != nil {
		t.Fatalf("create second list: %v", err)
	}

	f.client.failNext("CreateList", &remote.StatusError{Code: http.StatusUnprocessableEntity, Body: "name rejected"})

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Entry 1 failed outright; entry 2 depends on it and fails too; entry 3 is
	// independent and completes in the same pass.
	statuses := f.entryStatuses(t)
	want := []model.Status{model.StatusFailed, model.StatusFailed, model.StatusDone}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}

	gotGood, _ := f.lists.Get(good.LocalID)
	if gotGood.ServerID == "" {
		t.Error("independent list should still sync")
	}
	gotBad, _ := f.lists.Get(bad.LocalID)
	if gotBad.ServerID != "" || !gotBad.Dirty {
		t.Errorf("rejected list = %+v, want dirty and unsynced", gotBad)
	}
}

func TestDrainDeleteTolerates404(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("initial drain: %v", err)
	}

	if err := f.svc.DeleteList(l.LocalID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	f.client.failNext("DeleteList", &remote.StatusError{Code: http.StatusNotFound})

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got, err := f.lists.Get(l.LocalID)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if got != nil {
		t.Errorf("list = %+v, want purged after idempotent delete", got)
	}
	statuses := f.entryStatuses(t)
	if statuses[len(statuses)-1] != model.StatusDone {
		t.Errorf("delete entry status = %v, want done despite 404", statuses[len(statuses)-1])
	}
}

func TestDrainUpdate404IsPermanent(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	it, err := f.svc.AddItem(l.LocalID, store.ItemInput{Text: "milk"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("initial drain: %v", err)
	}

	if _, err := f.svc.UpdateItem(it.LocalID, store.ItemInput{Text: "oat milk"}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	f.client.failNext("UpdateItem", &remote.StatusError{Code: http.StatusNotFound})

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	statuses := f.entryStatuses(t)
	if statuses[len(statuses)-1] != model.StatusFailed {
		t.Errorf("update entry status = %v, a 404 on update needs operator attention", statuses[len(statuses)-1])
	}
	got, _ := f.items.Get(it.LocalID)
	if !got.Dirty {
		t.Error("item should stay dirty after a failed update")
	}
}

func TestDrainReplaySkipsAttachedRecords(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	// Simulate a crash after the remote call but before MarkDone: the server
	// id is attached, the entry still pending.
	if err := f.lists.AttachServerID(l.LocalID, "srv-existing"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if n := f.client.count("CreateList"); n != 0 {
		t.Errorf("CreateList calls = %d, replay must not create a duplicate", n)
	}
	if statuses := f.entryStatuses(t); statuses[0] != model.StatusDone {
		t.Errorf("entry = %v, want done without a remote call", statuses[0])
	}
	got, _ := f.lists.Get(l.LocalID)
	if got.ServerID != "srv-existing" {
		t.Errorf("server id = %q, want preserved", got.ServerID)
	}
}

func TestDrainCorruptPayloadIsParked(t *testing.T) {
	f := setupEngine(t)

	if _, err := f.outbox.Enqueue(model.OpItemAdd, []byte("not json")); err != nil {
		t.Fatalf("enqueue garbage: %v", err)
	}
	if _, err := f.svc.CreateList("Groceries"); err != nil {
		t.Fatalf("create list: %v", err)
	}

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	statuses := f.entryStatuses(t)
	want := []model.Status{model.StatusFailed, model.StatusDone}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestDrainClosedGateDoesNothing(t *testing.T) {
	f := setupEngine(t)

	gate := connectivity.NewGate(f.client, time.Minute, testLogger())
	// Never probed: closed.
	f.engine.gate = gate

	if _, err := f.svc.CreateList("Groceries"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(f.client.calls) != 0 {
		t.Errorf("calls = %v, want none while the gate is closed", f.client.calls)
	}
	if statuses := f.entryStatuses(t); statuses[0] != model.StatusPending {
		t.Errorf("entry = %v, want untouched", statuses[0])
	}
}

// The offline milk scenario: an item added while the service is down survives
// three failed passes and lands exactly once when service returns.
func TestDrainEventualDelivery(t *testing.T) {
	f := setupEngine(t)

	l, err := f.svc.CreateList("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("initial drain: %v", err)
	}

	it, err := f.svc.AddItem(l.LocalID, store.ItemInput{Text: "milk", Quantity: 2, Unit: model.UnitLiter})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	f.client.failNext("AddItem",
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	)

	for i := 0; i < 3; i++ {
		if err := f.engine.DrainOnce(context.Background()); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		f.makeRetryEligible(t)
	}

	entry, err := f.outbox.Get(2)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Tries != 3 || entry.Status != model.StatusPending {
		t.Fatalf("entry after outage = %+v, want pending with 3 tries", entry)
	}

	if err := f.engine.DrainOnce(context.Background()); err != nil {
		t.Fatalf("final drain: %v", err)
	}

	got, _ := f.items.Get(it.LocalID)
	if got.ServerID == "" || got.Dirty {
		t.Errorf("item = %+v, want synced exactly once", got)
	}
	if n := f.client.count("AddItem"); n != 4 {
		t.Errorf("AddItem calls = %d, want 4 (three failures + one success)", n)
	}
}
