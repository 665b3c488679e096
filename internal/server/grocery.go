package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/satchel/internal/grocery"
	"github.com/dukerupert/satchel/internal/model"
	"github.com/dukerupert/satchel/internal/store"
)

// groceryHandler fronts the mutation service for the local UI shell. Every
// write lands in the local store and outbox; nothing here waits on the
// network.
type groceryHandler struct {
	svc *grocery.Service
}

type listRequest struct {
	Name string `json:"name"`
}

type itemRequest struct {
	Text          string            `json:"text"`
	CatalogTermID string            `json:"catalog_term_id"`
	Quantity      float64           `json:"quantity"`
	Unit          string            `json:"unit"`
	Checked       bool              `json:"checked"`
	Category      string            `json:"category"`
	Extra         map[string]string `json:"extra"`
}

func (h *groceryHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lists", h.lists)
	mux.HandleFunc("POST /api/lists", h.createList)
	mux.HandleFunc("PUT /api/lists/{id}", h.renameList)
	mux.HandleFunc("DELETE /api/lists/{id}", h.deleteList)
	mux.HandleFunc("GET /api/lists/{id}/items", h.items)
	mux.HandleFunc("POST /api/lists/{id}/items", h.addItem)
	mux.HandleFunc("PUT /api/items/{id}", h.updateItem)
	mux.HandleFunc("DELETE /api/items/{id}", h.deleteItem)
}

func (h *groceryHandler) lists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.svc.Lists()
	if err != nil {
		writeError(w, err)
		return
	}
	if lists == nil {
		lists = []model.List{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *groceryHandler) createList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	l, err := h.svc.CreateList(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *groceryHandler) renameList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	l, err := h.svc.RenameList(r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	if l == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "list not found"})
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *groceryHandler) deleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteList(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *groceryHandler) items(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Items(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *groceryHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	it, err := h.svc.AddItem(r.PathValue("id"), itemInput(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *groceryHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	it, err := h.svc.UpdateItem(r.PathValue("id"), itemInput(req))
	if err != nil {
		writeError(w, err)
		return
	}
	if it == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *groceryHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteItem(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func itemInput(req itemRequest) store.ItemInput {
	return store.ItemInput{
		Text:          strings.TrimSpace(req.Text),
		CatalogTermID: req.CatalogTermID,
		Quantity:      req.Quantity,
		Unit:          model.ParseUnit(req.Unit),
		Checked:       req.Checked,
		Category:      req.Category,
		Extra:         req.Extra,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: invalid input is the
// caller's problem, a dedupe conflict carries the surviving record's id so
// the UI can highlight it.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
		return
	}
	var de *model.DuplicateError
	if errors.As(err, &de) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":             de.Error(),
			"existing_local_id": de.ExistingLocalID,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
