package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"astro-trader/internal/executor"
	"astro-trader/internal/monitor"
)

// startTradeServer 暴露决策管线使用的指令接口：下单、平仓、撤单与快照查询。
func startTradeServer(ctx context.Context, backend executor.Backend, svc *monitor.Service, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req executor.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid order request: %v", err), http.StatusBadRequest)
			return
		}

		result := backend.PlaceOrder(r.Context(), req)
		svc.RecordExecution(r.Context(), req, result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req executor.CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid cancel request: %v", err), http.StatusBadRequest)
			return
		}

		result := backend.CancelOrder(r.Context(), req)
		svc.RecordCancel(r.Context(), req, result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/orders/status", func(w http.ResponseWriter, r *http.Request) {
		orderID := strings.TrimSpace(r.URL.Query().Get("id"))
		if orderID == "" {
			http.Error(w, "missing order id", http.StatusBadRequest)
			return
		}
		writeJSON(w, backend.GetOrderStatus(r.Context(), orderID), logger)
	})

	mux.HandleFunc("/positions/close", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		asset := strings.TrimSpace(r.URL.Query().Get("asset"))
		if asset == "" {
			http.Error(w, "missing asset", http.StatusBadRequest)
			return
		}

		result := executor.ClosePosition(r.Context(), backend, asset)
		svc.RecordExecution(r.Context(), executor.OrderRequest{Asset: asset}, result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/position", func(w http.ResponseWriter, r *http.Request) {
		asset := strings.TrimSpace(r.URL.Query().Get("asset"))
		if asset == "" {
			http.Error(w, "missing asset", http.StatusBadRequest)
			return
		}

		pos, err := backend.GetPosition(r.Context(), asset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, pos, logger)
	})

	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		account, err := backend.GetAccountValue(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, account, logger)
	})

	mux.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		sim, ok := backend.(*executor.SimulatedBackend)
		if !ok {
			http.Error(w, "statistics only available on the simulated backend", http.StatusNotFound)
			return
		}
		writeJSON(w, sim.Statistics(), logger)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		if orderID := strings.TrimSpace(q.Get("order_id")); orderID != "" {
			events, err := svc.ListOrderEvents(r.Context(), orderID, limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, events, logger)
			return
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
		writeJSON(w, events, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭指令接口失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("指令接口异常", zap.Error(err))
		}
	}()

	logger.Info("指令接口已启动", zap.String("addr", addr))
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
