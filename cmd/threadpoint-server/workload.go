package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/threadpoint/threadpoint/pkg/threadpoint"
)

// workloadManager drives synthetic checkpoint traffic against the
// runtime so /metrics has something to show.
type workloadManager struct {
	runtime *threadpoint.Runtime

	mu            sync.Mutex
	createCancel  context.CancelFunc
	restoreCancel context.CancelFunc
}

func (m *workloadManager) startCheckpoints(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createCancel != nil {
		http.Error(w, "checkpoint workload already running", http.StatusConflict)
		return
	}
	thread := r.URL.Query().Get("thread")
	if thread == "" {
		thread = "workload"
	}
	rate := 200 * time.Millisecond
	if v := r.URL.Query().Get("rate_ms"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			rate = ms
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.createCancel = cancel
	go func() { m.runCreateLoop(ctx, thread, rate) }()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "checkpoint workload started: thread=%s rate=%v\n", thread, rate)
}

func (m *workloadManager) stopCheckpoints(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createCancel != nil {
		m.createCancel()
		m.createCancel = nil
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "checkpoint workload stopped\n")
}

func (m *workloadManager) startRestores(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restoreCancel != nil {
		http.Error(w, "restore workload already running", http.StatusConflict)
		return
	}
	thread := r.URL.Query().Get("thread")
	if thread == "" {
		thread = "workload"
	}
	rate := 500 * time.Millisecond
	if v := r.URL.Query().Get("rate_ms"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			rate = ms
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.restoreCancel = cancel
	go func() { m.runRestoreLoop(ctx, thread, rate) }()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "restore workload started: thread=%s rate=%v\n", thread, rate)
}

func (m *workloadManager) stopRestores(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restoreCancel != nil {
		m.restoreCancel()
		m.restoreCancel = nil
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "restore workload stopped\n")
}

// runCreateLoop writes Auto checkpoints at the given rate. Every fiftieth
// write it runs a retention sweep so deletion metrics move too.
func (m *workloadManager) runCreateLoop(ctx context.Context, thread string, hz time.Duration) {
	ticker := time.NewTicker(hz)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			state := map[string]interface{}{
				"iteration": n,
				"payload":   rand.Int63(),
			}
			if _, err := m.runtime.CreateAutoCheckpoint(ctx, thread, state); err != nil {
				log.Printf("workload create error: %v", err)
				continue
			}
			if n%50 == 0 {
				if _, err := m.runtime.CleanupExpiredCheckpoints(ctx, thread); err != nil {
					log.Printf("workload cleanup error: %v", err)
				}
			}
		}
	}
}

// runRestoreLoop restores the thread's newest checkpoint at the given
// rate. A thread with no checkpoints yet is not an error.
func (m *workloadManager) runRestoreLoop(ctx context.Context, thread string, hz time.Duration) {
	ticker := time.NewTicker(hz)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := m.runtime.GetLatestCheckpoint(ctx, thread)
			if err != nil {
				if !threadpoint.IsNotFound(err) {
					log.Printf("workload restore error: %v", err)
				}
				continue
			}
			if _, err := m.runtime.RestoreFromCheckpoint(ctx, latest.ID); err != nil {
				log.Printf("workload restore error: %v", err)
			}
		}
	}
}
