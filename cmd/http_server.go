package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/land-payment/internal/auth"
	"github.com/frahmantamala/land-payment/internal/otp"
	otppostgres "github.com/frahmantamala/land-payment/internal/otp/postgres"
	"github.com/frahmantamala/land-payment/internal/payment"
	"github.com/frahmantamala/land-payment/internal/purchase"
	"github.com/frahmantamala/land-payment/internal/transport/rest"
	"github.com/frahmantamala/land-payment/internal/user"
	"github.com/frahmantamala/land-payment/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for buyers, operators and the payment provider webhook`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	lg := logger.LoggerWrapper()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	core, err := buildCore(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	notifier, closeNotifier, err := newNotifier(cfg.Kafka, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize notifier: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			lg.Error("notifier close error", "error", err)
		}
	}()

	codes := otp.NewService(otppostgres.NewCodeRepository(core.Gorm), notifier, otp.Config{
		Length:      cfg.OTP.Length,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Issuer:      cfg.OTP.Issuer,
	}, lg)
	tokens := auth.NewJWTTokenGenerator(
		cfg.Security.JWTAccessSecret,
		cfg.Security.JWTRefreshSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)
	authService := auth.NewService(core.UserRepo, codes, tokens, lg)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health: rest.NewHealthHandler(map[string]rest.Pinger{
			"postgres": core.SQL,
			"redis":    rest.PingFunc(func(ctx context.Context) error { return core.Redis.Ping(ctx).Err() }),
		}),
		Auth:     auth.NewHandler(authService),
		User:     user.NewHandler(core.Users),
		Payment:  payment.NewHandler(core.Payments),
		Webhook:  payment.NewWebhookHandler(core.Payments),
		Purchase: purchase.NewHandler(core.Purchases),
	}, rest.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins}, lg)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		lg.Info("starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed to start", "error", err)
			return
		}
	}

	lg.Info("server stopped")
}
