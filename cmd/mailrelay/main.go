package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/offroad-parts/checkout/internal/notify"
)

// mailrelay stands in for the outbound mail service during local runs.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	v := viper.New()
	v.SetDefault("HTTP_ADDR", ":8084")
	v.AutomaticEnv()
	addr := v.GetString("HTTP_ADDR")

	relay := notify.NewRelay(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", relay.HandleSend)

	server := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(mux, "mailrelay"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting mail relay", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
