package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
	"querydeck/internal/lifecycle"
	"querydeck/internal/service"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Controller  *lifecycle.Controller
	Connections *service.ConnectionService
	Schema      *service.SchemaBrowser
	History     core.HistoryRepository
	Hub         *Hub
	Limiter     *RateLimiter // nil disables rate limiting
	SessionKey  string
	Log         logrus.FieldLogger
}

type Handler struct {
	ctrl    *lifecycle.Controller
	conns   *service.ConnectionService
	schema  *service.SchemaBrowser
	history core.HistoryRepository
	hub     *Hub
	limiter *RateLimiter
	store   *sessions.CookieStore
	log     logrus.FieldLogger

	mu     sync.Mutex
	owners map[core.SessionID]string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		ctrl:    d.Controller,
		conns:   d.Connections,
		schema:  d.Schema,
		history: d.History,
		hub:     d.Hub,
		limiter: d.Limiter,
		store:   newCookieStore(d.SessionKey),
		log:     d.Log,
		owners:  make(map[core.SessionID]string),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(h.log))
	r.Use(ClientMiddleware(h.store, h.log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/docs", h.Docs(r))
		r.Get("/pool", h.PoolStatus)

		r.Get("/connections", h.ConnectionTree)
		r.Get("/connections/flat", h.ConnectionList)
		r.Post("/connections", h.CreateConnection)
		r.Get("/connections/{id}", h.GetConnection)
		r.Put("/connections/{id}", h.UpdateConnection)
		r.Delete("/connections/{id}", h.DeleteConnection)
		r.Get("/connections/{id}/tables", h.ListTables)
		r.Get("/connections/{id}/tables/{table}/query", h.TableQuery)
		r.Get("/connections/{id}/history", h.ListHistory)
		r.Delete("/connections/{id}/history", h.ClearHistory)
		r.Delete("/history/{id}", h.DeleteHistoryEntry)

		r.Post("/categories", h.CreateCategory)
		r.Delete("/categories/{id}", h.DeleteCategory)
		r.Post("/categories/{id}/groups", h.CreateGroup)
		r.Delete("/groups/{id}", h.DeleteGroup)

		r.Get("/worksheets", h.ListWorksheets)
		r.Post("/worksheets", h.OpenWorksheet)
		r.Get("/worksheets/{id}", h.GetWorksheet)
		r.Delete("/worksheets/{id}", h.CloseWorksheet)
		r.Post("/worksheets/{id}/cancel", h.CancelWorksheet)
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/worksheets/{id}/run", h.RunWorksheet)
		})
	})

	r.Get("/ws/worksheets/{id}", h.WatchWorksheet)

	return r
}

// Docs lists the routes mounted under /api.
func (h *Handler) Docs(router chi.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type route struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		}
		var routes []route
		_ = chi.Walk(router, func(method, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, route{Method: method, Path: "/api" + path})
			return nil
		})
		sort.Slice(routes, func(i, j int) bool {
			if routes[i].Path != routes[j].Path {
				return routes[i].Path < routes[j].Path
			}
			return routes[i].Method < routes[j].Method
		})
		writeJSON(w, http.StatusOK, routes)
	}
}

func (h *Handler) PoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.PoolStats())
}

// Connections

type connectionInput struct {
	GroupID  int64               `json:"group_id"`
	Name     string              `json:"name"`
	Kind     core.ConnectionKind `json:"kind"`
	Driver   string              `json:"driver"`
	Path     string              `json:"path"`
	Host     string              `json:"host"`
	Port     int                 `json:"port"`
	Database string              `json:"database"`
	User     string              `json:"user"`
	Password string              `json:"password"`
	Options  map[string]string   `json:"options"`
}

func (in connectionInput) descriptor() *core.ConnectionDescriptor {
	return &core.ConnectionDescriptor{
		GroupID:  in.GroupID,
		Name:     in.Name,
		Kind:     in.Kind,
		Driver:   in.Driver,
		Path:     in.Path,
		Host:     in.Host,
		Port:     in.Port,
		Database: in.Database,
		User:     in.User,
		Password: in.Password,
		Options:  in.Options,
	}
}

func (h *Handler) ConnectionTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.conns.Tree()
	if err != nil {
		h.fail(w, err)
		return
	}
	if tree == nil {
		tree = []core.Category{}
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) ConnectionList(w http.ResponseWriter, r *http.Request) {
	joined, err := h.conns.Joined()
	if err != nil {
		h.fail(w, err)
		return
	}
	type entry struct {
		Label      string                    `json:"label"`
		Connection core.ConnectionDescriptor `json:"connection"`
	}
	out := make([]entry, 0, len(joined))
	for _, j := range joined {
		out = append(out, entry{Label: j.Label(), Connection: j.Connection})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var in connectionInput
	if !decode(w, r, &in) {
		return
	}
	conn := in.descriptor()
	if err := h.conns.Create(conn); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.conns.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in connectionInput
	if !decode(w, r, &in) {
		return
	}
	conn := in.descriptor()
	conn.ID = id
	if err := h.conns.Update(conn); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.conns.Delete(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.conns.Resolve(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	tables, err := h.schema.Tables(r.Context(), conn)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// TableQuery returns the statement for browsing a table, ready to paste into
// a worksheet. Query parameters: schema, limit, order (asc or desc).
func (h *Handler) TableQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.conns.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	order := core.TableOrder(strings.ToLower(q.Get("order")))
	if order != core.OrderNone && order != core.OrderAsc && order != core.OrderDesc {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	stmt := core.TableQuery(conn.Driver, q.Get("schema"), chi.URLParam(r, "table"), limit, order)
	writeJSON(w, http.StatusOK, map[string]string{"query": stmt})
}

// History

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.history.List(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newHistoryView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.history.RemoveAll(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.history.Remove(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories and groups

type nameInput struct {
	Name string `json:"name"`
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in nameInput
	if !decode(w, r, &in) {
		return
	}
	cat, err := h.conns.CreateCategory(in.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.conns.DeleteCategory(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r)
	if !ok {
		return
	}
	var in nameInput
	if !decode(w, r, &in) {
		return
	}
	group, err := h.conns.CreateGroup(categoryID, in.Name)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.conns.DeleteGroup(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Worksheets

func (h *Handler) ListWorksheets(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	out := []worksheetView{}
	for _, snap := range h.ctrl.Sessions() {
		if h.owner(snap.ID) == client {
			out = append(out, newWorksheetView(snap))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) OpenWorksheet(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(uuid.NewString())
	if err := h.ctrl.NewSession(id); err != nil {
		h.fail(w, err)
		return
	}
	h.mu.Lock()
	h.owners[id] = clientFrom(r.Context())
	h.mu.Unlock()

	snap, _ := h.ctrl.Session(id)
	writeJSON(w, http.StatusCreated, newWorksheetView(snap))
}

func (h *Handler) GetWorksheet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.worksheet(w, r)
	if !ok {
		return
	}
	snap, found := h.ctrl.Session(id)
	if !found {
		writeError(w, http.StatusNotFound, "worksheet not found")
		return
	}
	writeJSON(w, http.StatusOK, newWorksheetView(snap))
}

func (h *Handler) CloseWorksheet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.worksheet(w, r)
	if !ok {
		return
	}
	h.ctrl.CloseSession(id)
	h.mu.Lock()
	delete(h.owners, id)
	h.mu.Unlock()
	h.hub.Drop(id)
	w.WriteHeader(http.StatusNoContent)
}

type runInput struct {
	ConnectionID int64  `json:"connection_id"`
	Query        string `json:"query"`
}

// RunWorksheet submits a query and returns at once with 202. The outcome is
// delivered over the worksheet's websocket and kept as its last outcome.
func (h *Handler) RunWorksheet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.worksheet(w, r)
	if !ok {
		return
	}
	var in runInput
	if !decode(w, r, &in) {
		return
	}
	if err := core.ValidateStatement(in.Query); err != nil {
		h.fail(w, err)
		return
	}
	conn, err := h.conns.Resolve(in.ConnectionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	handle, err := h.ctrl.Submit(id, conn, in.Query)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) CancelWorksheet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.worksheet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.ctrl.Cancel(id)})
}

func (h *Handler) WatchWorksheet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.worksheet(w, r)
	if !ok {
		return
	}
	h.hub.Serve(w, r, id)
}

func (h *Handler) owner(id core.SessionID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owners[id]
}

// worksheet resolves the {id} path parameter to a worksheet the caller owns.
// Worksheets of other clients are reported as missing.
func (h *Handler) worksheet(w http.ResponseWriter, r *http.Request) (core.SessionID, bool) {
	id := core.SessionID(chi.URLParam(r, "id"))
	client := clientFrom(r.Context())
	if client == "" || h.owner(id) != client {
		writeError(w, http.StatusNotFound, "worksheet not found")
		return "", false
	}
	return id, true
}

// Helpers

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, core.ErrClosed), errors.Is(err, lifecycle.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
