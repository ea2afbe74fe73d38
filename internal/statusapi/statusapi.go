// Package statusapi implements the three HTTP endpoints named in
// spec.md §4.9: a health check, a per-repository status read, and a sync
// trigger. Status and trigger responses are JSON, errors use the teacher's
// jsonerr idiom, and a successful health check has an empty body.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quay/zlog"

	"github.com/zextras/reposync/pkg/jsonerr"
	"github.com/zextras/reposync/reposync"
)

// Manager is the subset of *scheduler.Manager this package depends on.
type Manager interface {
	Status(repo string) (reposync.RunStatus, bool)
	TriggerSync(repo string) error
	Names() []string
}

var _ http.Handler = (*HTTP)(nil)

// HTTP serves the status API over the three routes spec.md §4.9 names.
type HTTP struct {
	*http.ServeMux
	m Manager
}

// NewHandler wires the routes to m.
func NewHandler(m Manager) *HTTP {
	h := &HTTP{m: m}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/repository/", h.Repository)
	h.ServeMux = mux
	return h
}

// Health answers liveness: 200 with an empty body whenever the process can
// serve requests at all.
func (h *HTTP) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		resp := &jsonerr.Response{Code: "method-not-allowed", Message: "endpoint only allows GET"}
		jsonerr.Error(w, resp, http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Repository dispatches "/repository/{name}/" (GET for status) and
// "/repository/{name}/sync" (POST to trigger a sync).
func (h *HTTP) Repository(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/repository/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		resp := &jsonerr.Response{Code: "bad-request", Message: "missing repository name"}
		jsonerr.Error(w, resp, http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.status(w, name)
	case action == "sync" && r.Method == http.MethodPost:
		h.sync(ctx, w, name)
	default:
		resp := &jsonerr.Response{Code: "method-not-allowed", Message: "unsupported method or path"}
		jsonerr.Error(w, resp, http.StatusMethodNotAllowed)
	}
}

func (h *HTTP) status(w http.ResponseWriter, name string) {
	if name == reposync.AllRepos {
		out := make([]reposync.RunStatus, 0, len(h.m.Names()))
		for _, n := range h.m.Names() {
			if s, ok := h.m.Status(n); ok {
				out = append(out, s)
			}
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(out)
		return
	}

	s, ok := h.m.Status(name)
	if !ok {
		resp := &jsonerr.Response{Code: "not-found", Message: "unknown repository " + name}
		jsonerr.Error(w, resp, http.StatusNotFound)
		return
	}
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(&s)
}

func (h *HTTP) sync(ctx context.Context, w http.ResponseWriter, name string) {
	if err := h.m.TriggerSync(name); err != nil {
		resp := &jsonerr.Response{Code: "not-found", Message: err.Error()}
		zlog.Debug(ctx).Err(err).Str("repo", name).Msg("sync trigger rejected")
		jsonerr.Error(w, resp, http.StatusNotFound)
		return
	}
	// Enqueuing is synchronous; the sync itself runs in the background, so
	// the status reported here is a snapshot taken right after trigger, not
	// a completion result.
	s, _ := h.m.Status(name)
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(&s)
}
