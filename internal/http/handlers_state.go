package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

type stateResponse struct {
	Status domainauth.Status       `json:"status"`
	User   *domainauth.UserProfile `json:"user"`
	// Hint is the last cached profile, present only while loading.
	Hint *domainauth.UserProfile `json:"hint,omitempty"`
}

func toStateResponse(st domainauth.AuthState, hint *domainauth.UserProfile) stateResponse {
	resp := stateResponse{Status: st.Status, User: st.User}
	if !st.Settled() {
		resp.Hint = hint
	}
	return resp
}

// StateHandlers expose AuthState to the browser.
type StateHandlers struct {
	// Wait bounds how long ?refresh=1 waits for the re-check to land.
	Wait time.Duration
	// Heartbeat is the keep-alive interval of the event stream.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

func (h *StateHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// State returns the current AuthState. With ?refresh=1 the provider session
// is re-checked first.
// GET /auth/state.
func (h *StateHandlers) State(w http.ResponseWriter, r *http.Request) {
	c, ok := ClientFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Err:     errors.New("no browser session"),
		})
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if r.URL.Query().Get("refresh") != "1" {
		WriteJSON(w, http.StatusOK, toStateResponse(c.Store.Snapshot(), c.Store.Hint()))
		return
	}

	updates, cancel := c.Store.Subscribe()
	defer cancel()
	<-updates // current value
	c.Store.Refresh()

	ctx, stop := context.WithTimeout(r.Context(), h.wait())
	defer stop()
	st := c.Store.Snapshot()
	select {
	case next, open := <-updates:
		if open {
			st = next
		}
	case <-ctx.Done():
	}
	if refreshed, err := c.RefreshActivation(r.Context()); err == nil {
		st = refreshed
	} else {
		h.logger().DebugContext(r.Context(), "activation refresh failed", "error", err)
	}
	WriteJSON(w, http.StatusOK, toStateResponse(st, c.Store.Hint()))
}

func (h *StateHandlers) wait() time.Duration {
	if h.Wait > 0 {
		return h.Wait
	}
	return 3 * time.Second
}

func (h *StateHandlers) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return 25 * time.Second
}

// Events streams AuthState changes as server-sent events. Each event carries
// the full state; slow readers only see the latest one.
// GET /auth/events.
func (h *StateHandlers) Events(w http.ResponseWriter, r *http.Request) {
	c, ok := ClientFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Err:     errors.New("no browser session"),
		})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("streaming unsupported"),
		})
		return
	}

	updates, cancel := c.Store.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, open := <-updates:
			if !open {
				// The client was evicted; the browser reconnects with a fresh one.
				return
			}
			if err := writeStateEvent(w, toStateResponse(st, c.Store.Hint())); err != nil {
				h.logger().DebugContext(r.Context(), "auth event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeStateEvent(w http.ResponseWriter, resp stateResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}
