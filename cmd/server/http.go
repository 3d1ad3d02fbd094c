package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"voxelweather.ai/internal/persistence/indexdb"
	persistlog "voxelweather.ai/internal/persistence/log"
	"voxelweather.ai/internal/sim/authority"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/transport/ws"
)

func newMux(rt *authority.Runtime, db *indexdb.SQLiteStore, transitions *persistlog.TransitionLogger, admin bool, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, rt.Metrics())
		if db != nil {
			writeStoreMetrics(rw, db.Stats())
		}
		if transitions != nil {
			fmt.Fprintf(rw, "# HELP voxelweather_transition_log_errors_total Transition log write failures.\n")
			fmt.Fprintf(rw, "# TYPE voxelweather_transition_log_errors_total counter\n")
			fmt.Fprintf(rw, "voxelweather_transition_log_errors_total %d\n", transitions.WriteErrors())
			fmt.Fprintf(rw, "# HELP voxelweather_transition_log_entries_total Transition log entries written.\n")
			fmt.Fprintf(rw, "# TYPE voxelweather_transition_log_entries_total counter\n")
			fmt.Fprintf(rw, "voxelweather_transition_log_entries_total %d\n", transitions.Written())
		}
	})

	if admin {
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				Metrics authority.Metrics `json:"metrics"`
				Tuning  tuning.Tuning     `json:"tuning"`
			}{rt.Metrics(), rt.Tuning()})
		}))
		mux.HandleFunc("/admin/v1/save", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			rw.Header().Set("Content-Type", "application/json")
			if err := rt.Save(ctx); err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			m := rt.Metrics()
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": m.Tick, "cached_regions": m.CachedRegions})
		}))
		if db != nil {
			mux.HandleFunc("/admin/v1/regions", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
				rows, err := db.List(r.Context())
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				type row struct {
					RegionX   int32  `json:"region_x"`
					RegionZ   int32  `json:"region_z"`
					Name      string `json:"name"`
					Size      int    `json:"size"`
					UpdatedAt string `json:"updated_at"`
				}
				out := make([]row, 0, len(rows))
				for _, ri := range rows {
					out = append(out, row{ri.Key.X, ri.Key.Z, ri.Name, ri.Size, ri.UpdatedAt})
				}
				rw.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(rw).Encode(out)
			}))
		}
	} else {
		logger.Printf("admin endpoints disabled")
	}

	mux.HandleFunc("/v1/ws", ws.NewServer(rt, logger).Handler())
	return mux
}

func writeMetrics(rw http.ResponseWriter, m authority.Metrics) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelweather_tick Authoritative ticks run.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_tick counter\n")
	fmt.Fprintf(rw, "voxelweather_tick %d\n", m.Tick)

	fmt.Fprintf(rw, "# HELP voxelweather_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_observers gauge\n")
	fmt.Fprintf(rw, "voxelweather_observers %d\n", m.Observers)

	fmt.Fprintf(rw, "# HELP voxelweather_regions Region counts by state.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_regions gauge\n")
	fmt.Fprintf(rw, "voxelweather_regions{state=%q} %d\n", "loaded", m.LoadedRegions)
	fmt.Fprintf(rw, "voxelweather_regions{state=%q} %d\n", "cached", m.CachedRegions)

	fmt.Fprintf(rw, "# HELP voxelweather_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelweather_queue_depth{queue=%q} %d\n", "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxelweather_queue_depth{queue=%q} %d\n", "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "voxelweather_queue_depth{queue=%q} %d\n", "move", m.QueueDepths.Move)
	fmt.Fprintf(rw, "voxelweather_queue_depth{queue=%q} %d\n", "save", m.QueueDepths.Save)

	fmt.Fprintf(rw, "# HELP voxelweather_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_step_ms gauge\n")
	fmt.Fprintf(rw, "voxelweather_step_ms %.3f\n", m.StepMS)

	s := m.Server
	fmt.Fprintf(rw, "# HELP voxelweather_sync_total Authority sync counters.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_sync_total counter\n")
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "sent", s.Sent)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "send_drop", s.SendDrops)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "persisted", s.Persisted)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "persist_error", s.PersistErrors)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "restored", s.Restored)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "fresh", s.Fresh)
	fmt.Fprintf(rw, "voxelweather_sync_total{event=%q} %d\n", "tick_failure", s.TickFailures)
}

func writeStoreMetrics(rw http.ResponseWriter, s indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP voxelweather_store_queue_depth Region store write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_store_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelweather_store_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP voxelweather_store_queue_capacity Region store write queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_store_queue_capacity gauge\n")
	fmt.Fprintf(rw, "voxelweather_store_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP voxelweather_store_total Region store counters.\n")
	fmt.Fprintf(rw, "# TYPE voxelweather_store_total counter\n")
	fmt.Fprintf(rw, "voxelweather_store_total{event=%q} %d\n", "put", s.PutTotal)
	fmt.Fprintf(rw, "voxelweather_store_total{event=%q} %d\n", "drop", s.DropTotal)
	fmt.Fprintf(rw, "voxelweather_store_total{event=%q} %d\n", "commit", s.CommitTotal)
	fmt.Fprintf(rw, "voxelweather_store_total{event=%q} %d\n", "flush_fail", s.FlushFailTotal)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
