package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyrelay/internal/clob"
	"polyrelay/internal/exchange"
	"polyrelay/internal/ledger"
	"polyrelay/internal/relay"
)

type tradeRequest struct {
	UserID    string  `json:"userId"`
	TokenID   string  `json:"tokenId"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	OrderType string  `json:"orderType,omitempty"`
}

// serve 对外暴露中继的 HTTP 接口。鉴权由上游网关负责，这里不做 JWT 校验。
func (a *App) serve(ctx context.Context, relaySvc *relay.Service, ledgerSvc *ledger.Service) error {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		side, err := clob.ParseSide(req.Side)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result := relaySvc.Execute(r.Context(), relay.Request{
			UserID: req.UserID,
			Intent: clob.TradeIntent{
				TokenID: req.TokenID,
				Side:    side,
				Price:   decimal.NewFromFloat(req.Price),
				Amount:  decimal.NewFromFloat(req.Amount),
			},
			OrderType: exchange.OrderType(req.OrderType),
		})

		status := http.StatusOK
		if result.Err != nil && result.Err.Kind == relay.KindValidation {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result, a.logger)
	}).Methods(http.MethodPost)

	router.HandleFunc("/trades/{user}", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				limit = v
			}
		}

		trades, err := ledgerSvc.ListByUser(r.Context(), mux.Vars(r)["user"], limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, trades, a.logger)
	}).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP 服务已启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
