package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/monitor"
)

// statusSource 为 /status 提供账本快照，engine.Sequencer 满足该接口。
type statusSource interface {
	Snapshot() []account.Holding
	Ticks() uint64
	Completed() bool
}

type statusResponse struct {
	Ticks     uint64            `json:"ticks"`
	Completed bool              `json:"completed"`
	Summary   string            `json:"summary"`
	Holdings  []account.Holding `json:"holdings"`
}

func newMonitorMux(svc *monitor.Service, status statusSource, logger *zap.Logger) *http.ServeMux {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				limit = min(v, 1000)
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		holdings := status.Snapshot()
		writeJSON(w, statusResponse{
			Ticks:     status.Ticks(),
			Completed: status.Completed(),
			Summary:   account.StatusLine(holdings),
			Holdings:  holdings,
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func startMonitorServer(ctx context.Context, svc *monitor.Service, status statusSource, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitorMux(svc, status, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
