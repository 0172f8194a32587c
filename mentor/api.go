package mentor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/kit"
	"github.com/hazyhaar/codementor/shield"
)

// sseHeartbeat keeps idle event streams open through proxies.
const sseHeartbeat = 15 * time.Second

// Handler returns the HTTP API.
//
//	GET    /problem?page_id=
//	GET    /problem/history?page_id=&limit=
//	GET    /providers
//	GET    /keys
//	PUT    /keys/{provider}      {"key": "..."}
//	DELETE /keys/{provider}
//	DELETE /keys
//	POST   /ask                  {"kind", "provider", "page_id"}
//	GET    /events?page_id=      text/event-stream
//	GET    /audit?operation=&limit=
func (k *Keeper) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(k.requestContext)
	for _, mw := range shield.APIStack(k.limiter) {
		r.Use(mw)
	}

	r.Get("/problem", k.handleProblem)
	r.Get("/problem/history", k.handleHistory)
	r.Get("/providers", k.handleProviders)
	r.Get("/keys", k.handleListKeys)
	r.Put("/keys/{provider}", k.handleSetKey)
	r.Delete("/keys/{provider}", k.handleClearKey)
	r.Delete("/keys", k.handleClearKey)
	r.Post("/ask", k.handleAsk)
	r.Get("/events", k.handleEvents)
	r.Get("/audit", k.handleAudit)
	return r
}

func (k *Keeper) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = idgen.New()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, id)
		ctx = kit.WithRemoteAddr(ctx, shield.ExtractIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (k *Keeper) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			k.renderError(w, r, invalidRequest("invalid limit %q", v))
			return
		}
		limit = n
	}
	entries, err := k.Audit(r.Context(), r.URL.Query().Get("operation"), limit)
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, entries)
}

func (k *Keeper) handleProblem(w http.ResponseWriter, r *http.Request) {
	cur, err := k.Problem(r.Context(), r.URL.Query().Get("page_id"))
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, cur)
}

func (k *Keeper) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			k.renderError(w, r, invalidRequest("limit must be an integer"))
			return
		}
		limit = n
	}
	h, err := k.History(r.Context(), r.URL.Query().Get("page_id"), limit)
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"snapshots": h, "count": len(h)})
}

func (k *Keeper) handleProviders(w http.ResponseWriter, r *http.Request) {
	ps, err := k.Providers(r.Context())
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"providers": ps})
}

func (k *Keeper) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := k.Keys(r.Context())
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

type setKeyRequest struct {
	Key string `json:"key"`
}

func (k *Keeper) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req setKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		k.renderError(w, r, invalidRequest("invalid request body"))
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := k.SetKey(r.Context(), provider, req.Key); err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"provider": provider, "saved": true})
}

func (k *Keeper) handleClearKey(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	n, err := k.ClearKeys(r.Context(), provider)
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (k *Keeper) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		k.renderError(w, r, invalidRequest("invalid request body"))
		return
	}
	ans, err := k.Ask(r.Context(), req)
	if err != nil {
		k.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, ans)
}

// handleEvents streams the current problem of a page: one "problem" event
// on connect and after every database change, or "cleared" when there is
// none.
func (k *Keeper) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		k.renderError(w, r, newError(ErrInternal, http.StatusInternalServerError, "streaming unsupported"))
		return
	}
	pageID := r.URL.Query().Get("page_id")
	changes, cancel := k.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	var lastID string
	send := func() error {
		cur, err := k.Problem(ctx, pageID)
		var me *Error
		switch {
		case errors.As(err, &me) && me.Code == ErrNotFound:
			if lastID == "-" {
				return nil
			}
			lastID = "-"
			_, err = fmt.Fprintf(w, "event: cleared\ndata: {\"page_id\":%q}\n\n", pageID)
		case err != nil:
			return err
		default:
			if cur.ID == lastID {
				return nil
			}
			lastID = cur.ID
			data, merr := json.Marshal(cur)
			if merr != nil {
				return merr
			}
			_, err = fmt.Fprintf(w, "event: problem\nid: %s\ndata: %s\n\n", cur.ID, data)
		}
		flusher.Flush()
		return err
	}

	if err := send(); err != nil {
		k.logger.Debug("mentor: sse write", "error", err)
		return
	}
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := send(); err != nil {
				k.logger.Debug("mentor: sse write", "error", err)
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (k *Keeper) renderError(w http.ResponseWriter, r *http.Request, err error) {
	me, _ := asError(err).(*Error)
	if me.Status >= 500 {
		k.logger.Error("mentor: request failed", "path", r.URL.Path, "request_id", kit.GetRequestID(r.Context()), "error", err)
	}
	renderJSON(w, me.Status, me)
}

func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

