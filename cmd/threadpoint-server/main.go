// Package main provides the ThreadPoint HTTP server exposing the
// checkpoint API, metrics, and debug endpoints.
package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register /debug/pprof on the default mux
	"os"
	"sort"
	"strings"

	"github.com/threadpoint/threadpoint/pkg/threadpoint"
	"github.com/threadpoint/threadpoint/pkg/validation"
)

func main() {
	ctx := context.Background()

	cfg, err := threadpoint.LoadConfig(os.Getenv("THREADPOINT_CONFIG"))
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	rt, err := threadpoint.NewRuntimeFromConfig(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
	defer rt.Close()
	rt.Start(ctx)

	api := &apiServer{runtime: rt}
	wm := &workloadManager{runtime: rt}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "ThreadPoint server is running. See /healthz, /metrics, /debug/vars, /debug/pprof/")
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "ok")
	})

	// Prometheus-compatible metrics endpoint (no external deps)
	mux.HandleFunc("/metrics", promMetricsHandler)

	// pprof and expvar register themselves on the default mux
	mux.Handle("/debug/", http.DefaultServeMux)

	// Checkpoint API behind request validation
	middleware := validation.NewMiddleware(nil)
	mux.Handle("/api/checkpoints", api.checkpointsHandler(middleware))
	mux.Handle("/api/checkpoints/restore",
		middleware.ValidateJSON(validation.RestoreCheckpointRequest{})(http.HandlerFunc(api.restoreCheckpoint)))
	mux.HandleFunc("/api/stats", api.stats)

	// Workload endpoints to generate metrics load
	mux.HandleFunc("/workload/checkpoints/start", wm.startCheckpoints)
	mux.HandleFunc("/workload/checkpoints/stop", wm.stopCheckpoints)
	mux.HandleFunc("/workload/restores/start", wm.startRestores)
	mux.HandleFunc("/workload/restores/stop", wm.stopRestores)

	addr := ":8080"
	if v := os.Getenv("THREADPOINT_ADDR"); v != "" {
		addr = v
	}
	log.Printf("Starting ThreadPoint server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// promMetricsHandler renders known expvar metrics in Prometheus text format.
func promMetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Define metadata for known metrics
	type meta struct {
		typ, help string
		isMap     bool
		label     string
	}
	metas := map[string]meta{
		"threadpoint_checkpoints_created_total":  {typ: "counter", help: "Checkpoints created", isMap: true, label: "type"},
		"threadpoint_checkpoints_deleted_total":  {typ: "counter", help: "Checkpoints deleted", isMap: true, label: "reason"},
		"threadpoint_events_published_total":     {typ: "counter", help: "Lifecycle events published", isMap: true, label: "type"},
		"threadpoint_events_dropped_total":       {typ: "counter", help: "Lifecycle events dropped", isMap: true, label: "type"},
		"threadpoint_event_queue_depth":          {typ: "gauge", help: "Event sink queue depth", isMap: true, label: "kind"},
		"threadpoint_checkpoints_restored_total": {typ: "counter", help: "Restores served", isMap: false},
		"threadpoint_checkpoints_archived_total": {typ: "counter", help: "Checkpoints archived", isMap: false},
		"threadpoint_backups_created_total":      {typ: "counter", help: "Backup copies created", isMap: false},
		"threadpoint_restore_failures_total":     {typ: "counter", help: "Restores that failed", isMap: false},
	}

	// Collect variable names deterministically
	varNames := make([]string, 0, 64)
	expvar.Do(func(kv expvar.KeyValue) {
		varNames = append(varNames, kv.Key)
	})
	sort.Strings(varNames)

	printed := make(map[string]bool)

	writeHeader := func(name string, m meta) {
		if printed[name] {
			return
		}
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, sanitizeHelp(m.help))
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, m.typ)
		printed[name] = true
	}

	for _, name := range varNames {
		v := expvar.Get(name)
		m, known := metas[name]
		if !known {
			// Minimal rendering: publish as an untyped gauge if numeric
			if iv, ok := v.(*expvar.Int); ok {
				_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
				_, _ = fmt.Fprintf(w, "%s %s\n", name, iv.String())
			}
			continue
		}
		writeHeader(name, m)
		if m.isMap {
			if mp, ok := v.(*expvar.Map); ok {
				// Collect subkeys deterministically
				sub := make([]expvar.KeyValue, 0, 8)
				mp.Do(func(kv expvar.KeyValue) { sub = append(sub, kv) })
				sort.Slice(sub, func(i, j int) bool { return sub[i].Key < sub[j].Key })
				for _, kv := range sub {
					fmt.Fprintf(w, "%s{%s=\"%s\"} %s\n", name, m.label, escapeLabel(kv.Key), kv.Value.String())
				}
			}
		} else {
			fmt.Fprintf(w, "%s %s\n", name, v.String())
		}
	}
}

func sanitizeHelp(s string) string {
	// Replace newlines with spaces to satisfy Prometheus text format
	return strings.ReplaceAll(s, "\n", " ")
}

func escapeLabel(s string) string {
	// Escape backslash, double-quote, and newline per Prometheus format
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
