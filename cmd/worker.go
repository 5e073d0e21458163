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

	"github.com/spf13/cobra"

	"github.com/frahmantamala/land-payment/internal/dispatch"
	"github.com/frahmantamala/land-payment/internal/payment"
	paymentpostgres "github.com/frahmantamala/land-payment/internal/payment/postgres"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	"github.com/frahmantamala/land-payment/internal/receipt"
	"github.com/frahmantamala/land-payment/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start the post-settlement job worker or the local payment provider sandbox`,
}

var dispatchWorkerCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run post-settlement jobs and the periodic sweep",
	Long:  `Consume receipt, notification, rollup and reminder jobs from the queue and schedule the expiry sweep`,
	Run: func(cmd *cobra.Command, args []string) {
		startDispatchWorker()
	},
}

var sandboxWorkerCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Start the payment provider sandbox",
	Long:  `Serve the provider API locally, settle charges on a worker pool and deliver signed webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startSandbox()
	},
}

var (
	concurrency int
	sandboxAddr string
)

func startDispatchWorker() {
	lg := logger.Component("worker")

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

	sweeper := payment.NewSweeper(core.Payments, paymentpostgres.NewAdvisoryLocker(core.SQL), cfg.Sweep.LockKey, lg).
		WithReminders(core.Purchases, core.Dispatcher, time.Duration(cfg.Sweep.ReminderDays)*24*time.Hour)

	worker := dispatch.NewWorker(
		paymentpostgres.NewPaymentRepository(core.Gorm),
		core.Purchases,
		core.Users,
		notifier,
		receipt.NewRenderer(),
		lg,
	).WithSweeper(sweeper).WithSalesRecipient(cfg.Queue.SalesRecipient)

	opts := dispatchOptions(cfg.Queue)
	redisOpt := queueRedis(cfg.Redis)
	server := dispatch.NewServer(redisOpt, opts, getIntFlag(concurrency, cfg.Queue.Concurrency), lg)

	scheduler, err := dispatch.NewScheduler(redisOpt, cfg.Sweep.Cronspec, opts.Queue, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to schedule sweep: %v\n", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	if err := server.Start(worker.Mux()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start queue server: %v\n", err)
		os.Exit(1)
	}

	lg.Info("dispatch worker is running. Press Ctrl+C to stop.",
		"queue", opts.Queue,
		"sweep_cronspec", cfg.Sweep.Cronspec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	lg.Info("received signal, shutting down dispatch worker", "signal", sig)

	server.Shutdown()
	lg.Info("dispatch worker shutdown complete")
}

func startSandbox() {
	lg := logger.Component("sandbox")

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	sandbox := paymentgateway.NewSandbox(paymentgateway.SandboxConfig{
		SecretKey:   cfg.Gateway.SecretKey,
		WebhookHash: cfg.Gateway.WebhookHash,
		WebhookURL:  cfg.Sandbox.WebhookURL,
		SuccessRate: cfg.Sandbox.SuccessRate,
		MinDelay:    cfg.Sandbox.MinDelay,
		MaxDelay:    cfg.Sandbox.MaxDelay,
		MaxWorkers:  cfg.Sandbox.MaxWorkers,
		QueueSize:   cfg.Sandbox.QueueSize,
	}, lg)
	sandbox.Start()

	addr := getStringFlag(sandboxAddr, cfg.Sandbox.Addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           sandbox.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		lg.Info("gateway sandbox listening",
			"address", addr,
			"webhook_url", cfg.Sandbox.WebhookURL,
			"max_workers", cfg.Sandbox.MaxWorkers)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down sandbox", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("sandbox failed to start", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Error("sandbox shutdown error", "error", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		sandbox.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		lg.Info("sandbox worker pool shutdown complete")
	case <-ctx.Done():
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	dispatchWorkerCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent jobs (overrides config)")
	sandboxWorkerCmd.Flags().StringVar(&sandboxAddr, "addr", "", "Listen address (overrides config)")

	workerCmd.AddCommand(dispatchWorkerCmd)
	workerCmd.AddCommand(sandboxWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
