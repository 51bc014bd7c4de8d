package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hongjun500/agora-go/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux /healthz 与 /metrics；health 为 nil 时恒为 ok
func NewMux(health func() error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartHTTP 启动指标服务，ctx 结束时优雅关闭
func StartHTTP(ctx context.Context, addr string, health func() error) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewMux(health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.L().Sugar().Infow("metrics_listen", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
