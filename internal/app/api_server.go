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

	"polyalgo/internal/monitor"
	"polyalgo/internal/order"
)

// createOrderPayload 为创建订单的请求体。时长以分钟表示，
// 避免让调用方构造纳秒级 Duration。
type createOrderPayload struct {
	Type    string  `json:"type"`
	Side    string  `json:"side"`
	TokenID string  `json:"token_id"`
	Size    float64 `json:"size"`

	TWAP *struct {
		TotalSize       float64 `json:"total_size"`
		DurationMinutes float64 `json:"duration_minutes"`
		IntervalMinutes float64 `json:"interval_minutes"`
	} `json:"twap,omitempty"`

	Stop *struct {
		StopLossPrice   *float64 `json:"stop_loss_price,omitempty"`
		TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
	} `json:"stop,omitempty"`

	Trailing *struct {
		TrailPercent float64  `json:"trail_percent"`
		TriggerPrice *float64 `json:"trigger_price,omitempty"`
		LimitPrice   *float64 `json:"limit_price,omitempty"`
	} `json:"trailing,omitempty"`
}

func startAPIServer(ctx context.Context, svc *Service, journal *monitor.Service, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var payload createOrderPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, CommandResult{Error: "请求体不是有效 JSON"}, logger)
			return
		}

		params, err := payload.toParams()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, CommandResult{Error: err.Error()}, logger)
			return
		}

		result := svc.CreateOrder(r.Context(),
			order.Type(strings.ToUpper(strings.TrimSpace(payload.Type))),
			order.Side(strings.ToUpper(strings.TrimSpace(payload.Side))),
			payload.TokenID, payload.Size, params,
		)
		writeJSON(w, statusOf(result, http.StatusBadRequest), result, logger)
	})

	mux.HandleFunc("POST /orders/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		result := svc.PauseOrder(r.Context(), r.PathValue("id"))
		writeJSON(w, statusOf(result, http.StatusConflict), result, logger)
	})

	mux.HandleFunc("POST /orders/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		result := svc.ResumeOrder(r.Context(), r.PathValue("id"))
		writeJSON(w, statusOf(result, http.StatusConflict), result, logger)
	})

	mux.HandleFunc("POST /orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		result := svc.CancelOrder(r.Context(), r.PathValue("id"))
		writeJSON(w, statusOf(result, http.StatusConflict), result, logger)
	})

	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		result := svc.GetOrder(r.Context(), r.PathValue("id"))
		writeJSON(w, statusOf(result, http.StatusNotFound), result, logger)
	})

	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		result := svc.ListOrders(r.Context())
		writeJSON(w, statusOf(result, http.StatusInternalServerError), result, logger)
	})

	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.SessionStatus(), logger)
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
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

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := journal.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, events, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭 API 服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API 服务异常", zap.Error(err))
		}
	}()

	logger.Info("命令接口已启动", zap.String("addr", addr))
	return nil
}

func (p *createOrderPayload) toParams() (order.Params, error) {
	var params order.Params
	switch {
	case p.TWAP != nil:
		params.TWAP = &order.TWAPParams{
			TotalSize: p.TWAP.TotalSize,
			Duration:  time.Duration(p.TWAP.DurationMinutes * float64(time.Minute)),
			Interval:  time.Duration(p.TWAP.IntervalMinutes * float64(time.Minute)),
			StartTime: time.Now().UTC(),
		}
	case p.Stop != nil:
		params.Stop = &order.StopParams{
			StopLossPrice:   p.Stop.StopLossPrice,
			TakeProfitPrice: p.Stop.TakeProfitPrice,
		}
	case p.Trailing != nil:
		params.Trailing = &order.TrailingParams{
			TrailPercent: p.Trailing.TrailPercent,
			TriggerPrice: p.Trailing.TriggerPrice,
			LimitPrice:   p.Trailing.LimitPrice,
		}
	default:
		return params, fmt.Errorf("缺少订单参数: twap/stop/trailing 至少提供其一")
	}
	return params, nil
}

func statusOf(result CommandResult, failStatus int) int {
	if result.Success {
		return http.StatusOK
	}
	return failStatus
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
