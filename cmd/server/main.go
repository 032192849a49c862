package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wardwatch/internal/factory"
	"wardwatch/internal/handler"
	"wardwatch/internal/util"
)

func main() {
	// The factory loads config and initializes all clients
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	// The monitor starts polling and holds the stream reconnect loop;
	// both idle in the no-auth state until the first login installs a
	// credential.
	f.Monitor().Start()

	router := setupRouter(f)
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
		util.String("upstream", cfg.Upstream.BaseURL),
	)

	waitForShutdown(f, server)
}

// setupRouter wires the chi router with all handlers
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	authHandler := handler.NewAuthHandler(f.AuthService(), cfg.Auth.SessionTTL, util.Get())
	eventHandler := handler.NewEventHandler(
		f.Store(),
		f.Monitor(),
		f.AuthService(),
		f.IdentityService(),
		f.UpstreamClient(),
		f.SearchService(),
		util.Get(),
	)
	manageHandler := handler.NewManageHandler(f.ManageService(), f.AuthService(), f.UpstreamClient(), util.Get())
	return handler.NewRouter(authHandler, eventHandler, manageHandler, cfg.Server.CORSOrigins, util.Get())
}

func waitForShutdown(f *factory.Factory, server *http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	// Open SSE connections hold the server; WriteTimeout must not apply to
	// them, so the shutdown deadline is what actually bounds the drain.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}
	f.Close()
}
