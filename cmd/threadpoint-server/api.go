package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/threadpoint/threadpoint/pkg/threadpoint"
	"github.com/threadpoint/threadpoint/pkg/validation"
)

type apiServer struct {
	runtime *threadpoint.Runtime
}

// checkpointsHandler routes /api/checkpoints by method, each behind its
// own validation.
func (a *apiServer) checkpointsHandler(m *validation.Middleware) http.Handler {
	create := m.ValidateJSON(validation.CreateCheckpointRequest{})(http.HandlerFunc(a.createCheckpoint))
	list := m.ValidateQueryParams(map[string]string{"thread_id": "required"})(http.HandlerFunc(a.listCheckpoints))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			create.ServeHTTP(w, r)
		case http.MethodGet:
			list.ServeHTTP(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (a *apiServer) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	input := threadpoint.CreateCheckpointInput{
		ThreadID:     req.ThreadID,
		StateData:    req.State,
		Metadata:     threadpoint.Metadata(req.Metadata),
		Type:         threadpoint.Type(req.Type),
		NeverExpires: req.NeverExpires,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		input.TTL = &ttl
	}

	cp, err := a.runtime.CreateCheckpoint(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (a *apiServer) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")

	cps, err := a.runtime.ListCheckpoints(r.Context(), threadID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id":   threadID,
		"count":       len(cps),
		"checkpoints": cps,
	})
}

func (a *apiServer) restoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req validation.RestoreCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	result, err := a.runtime.RestoreFromCheckpoint(r.Context(), req.CheckpointID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *apiServer) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.runtime.ComprehensiveStatistics(r.Context(), r.URL.Query().Get("thread_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case threadpoint.IsNotFound(err):
		status = http.StatusNotFound
	case threadpoint.IsValidation(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
