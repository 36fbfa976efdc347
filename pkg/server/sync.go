package server

import (
	"log/slog"
	"net/http"

	"github.com/aiguesbcn/aigues/pkg/log"
)

// handleSync runs a sync of one contract. It is meant to be called by a
// scheduler. A partial failure still answers 200 with the error in the state.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.syncer.Sync(ctx, r.URL.Query().Get("contract"))
	if err != nil && state.LastSync.IsZero() {
		writeClientError(w, r, "failed to sync", err)
		return
	}
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "sync finished with errors", slog.Any("error", err))
	}
	writeJSON(w, state)
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _, err := s.syncer.Account(ctx, r.URL.Query().Get("contract"))
	if err != nil {
		writeClientError(w, r, "failed to resolve contract", err)
		return
	}
	state, err := s.storage.GetSyncState(ctx, account)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get sync state", slog.String("account", account), slog.Any("error", err))
		writeJSONError(w, "failed to get sync state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, state)
}
