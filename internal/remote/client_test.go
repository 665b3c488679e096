package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateList(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody listRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"id": "srv-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	id, err := c.CreateList(context.Background(), Credentials{Token: "tok-123"}, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if id != "srv-1" {
		t.Errorf("id = %q, want %q", id, "srv-1")
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q, want bearer token", gotAuth)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/lists" {
		t.Errorf("call = %s %s, want POST /api/lists", gotMethod, gotPath)
	}
	if gotBody.Name != "Groceries" {
		t.Errorf("body name = %q, want %q", gotBody.Name, "Groceries")
	}
}

func TestAddItemPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(map[string]string{"id": "item-9"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	id, err := c.AddItem(context.Background(), Credentials{}, "list/7", ItemPayload{Text: "milk", Quantity: 1, Unit: "piece"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if id != "item-9" {
		t.Errorf("id = %q, want %q", id, "item-9")
	}
	if gotPath != "/api/lists/list%2F7/items" {
		t.Errorf("path = %q, want escaped list id", gotPath)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such list", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	err := c.DeleteList(context.Background(), Credentials{}, "gone")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", se.Code)
	}
	if se.Body != "no such list" {
		t.Errorf("body = %q, want trimmed server message", se.Body)
	}
}

func TestTransportErrorHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := NewHTTPClient(srv.URL, time.Second)
	err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected connection error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("transport failure carried a status: %v", err)
	}
}

func TestImportGuestNilMaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	resp, err := c.ImportGuest(context.Background(), Credentials{}, GuestImportRequest{})
	if err != nil {
		t.Fatalf("import guest: %v", err)
	}
	if resp.ListIDMap == nil || resp.ItemIDMap == nil {
		t.Error("maps should be non-nil even when the server omits them")
	}
}

func TestHealthOmitsAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("auth = %q, health probe should be anonymous", gotAuth)
	}
}
