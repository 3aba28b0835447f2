// agentpay is a runnable demo of two autonomous agents trading tokens:
// a buyer requests a quote, pays it through a session wallet, and the
// seller delivers and completes the payment. The control surface is
// served over HTTP (gin) and MCP (SSE); state lives in memory with an
// optional SQLite copy of the transaction log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	agentpay "github.com/skymint/agentpay"
	"github.com/skymint/agentpay/mcp"
	agentecho "github.com/skymint/agentpay/pkg/echo"
	agentgin "github.com/skymint/agentpay/pkg/gin"
	"github.com/skymint/agentpay/pkg/sqlog"
	"github.com/skymint/agentpay/provider"
	"github.com/skymint/agentpay/provider/cdp"
	"github.com/skymint/agentpay/schema"
	"github.com/skymint/agentpay/wallet"
	evmwallet "github.com/skymint/agentpay/wallet/evm"
	svmwallet "github.com/skymint/agentpay/wallet/svm"

	echoframework "github.com/labstack/echo/v4"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	var (
		port      = flag.String("port", envOr("PORT", "8080"), "HTTP listen port")
		network   = flag.String("network", envOr("AGENTPAY_NETWORK", wallet.NetworkEVM), "wallet network family (evm or svm)")
		logDB     = flag.String("log-db", os.Getenv("AGENTPAY_LOG_DB"), "optional SQLite file for a durable transaction log")
		poll      = flag.Duration("poll", agentpay.DefaultPollInterval, "message poll interval")
		auto      = flag.Int("auto", 0, "auto-run: initialize agents and purchase this many tokens, then print the result")
		framework = flag.String("framework", envOr("AGENTPAY_FRAMEWORK", "gin"), "HTTP framework for the control surface (gin or echo)")
	)
	flag.Parse()

	prov, err := buildProvider(*network)
	if err != nil {
		return err
	}

	storeOpts := []agentpay.StoreOption{
		agentpay.WithTransitionHook(func(p agentpay.Payment, ev agentpay.PaymentEvent) {
			fmt.Printf("payment %s -> %s (by %s)\n", p.PaymentID, ev.Status, ev.Actor)
		}),
	}
	if *logDB != "" {
		sink, err := sqlog.New(*logDB)
		if err != nil {
			return fmt.Errorf("open log db: %w", err)
		}
		defer sink.Close()
		storeOpts = append(storeOpts, agentpay.WithLogSink(sink))
		fmt.Println("Durable transaction log:", *logDB)
	}
	store := agentpay.NewStore(storeOpts...)

	manager := agentpay.NewManager(store, prov,
		agentpay.WithPollInterval(*poll),
		agentpay.WithValidator(schema.MustValidator()),
	)

	mux := http.NewServeMux()
	sse := mcp.SSEHandler(mcp.NewServer(manager))
	mux.Handle("/sse", sse)
	mux.Handle("/messages", sse)

	switch *framework {
	case "echo":
		router := echoframework.New()
		router.HideBanner = true
		agentecho.Attach(router, manager, agentecho.WithBasePath("/api"))
		mux.Handle("/", router)
	case "gin":
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		agentgin.Attach(router, manager, agentgin.WithBasePath("/api"))
		mux.Handle("/", router)
	default:
		return fmt.Errorf("unknown framework %q (want gin or echo)", *framework)
	}

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("agentpay demo listening on http://localhost:%s (%s wallets, %s surface)\n", *port, *network, *framework)
		fmt.Printf("  control: POST /api/initialize, /api/purchase, /api/reset\n")
		fmt.Printf("  reads:   GET /api/payments, /api/agents, /api/logs\n")
		fmt.Printf("  mcp:     /sse\n")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if *auto > 0 {
		go autoRun(ctx, manager, *auto, *poll)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return manager.Reset(context.Background())
}

// buildProvider picks the remote provider when CDP credentials and a
// provider URL are configured, and the in-process provider otherwise
func buildProvider(network string) (agentpay.PaymentProvider, error) {
	if providerURL := os.Getenv("AGENTPAY_PROVIDER_URL"); providerURL != "" {
		client, err := cdp.New(&cdp.Config{
			BaseURL:   providerURL,
			KeyID:     os.Getenv("CDP_API_KEY_ID"),
			KeySecret: os.Getenv("CDP_API_KEY_SECRET"),
		})
		if err != nil {
			return nil, err
		}
		fmt.Println("Payment provider:", providerURL)
		return client, nil
	}

	var backend wallet.Backend
	switch network {
	case wallet.NetworkEVM:
		backend = evmwallet.NewBackend()
	case wallet.NetworkSVM:
		backend = svmwallet.NewBackend()
	default:
		return nil, fmt.Errorf("unknown network %q (want %s or %s)", network, wallet.NetworkEVM, wallet.NetworkSVM)
	}
	fmt.Printf("Payment provider: in-process (%s wallets)\n", network)
	return provider.NewLocal(backend, provider.WithLatency(100*time.Millisecond)), nil
}

// autoRun scripts one full purchase: initialize, buy, wait for the
// payment to complete, print the audit trail
func autoRun(ctx context.Context, manager *agentpay.Manager, quantity int, poll time.Duration) {
	if err := manager.InitializeAgents(ctx); err != nil {
		fmt.Println("auto-run: initialize failed:", err)
		return
	}
	if err := manager.TriggerPurchase(ctx, quantity); err != nil {
		fmt.Println("auto-run: purchase failed:", err)
		return
	}

	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			fmt.Println("auto-run: payment did not complete within 30s")
			return
		case <-ticker.C:
			for _, p := range manager.Store().ListPayments() {
				if p.Status == agentpay.StatusCompleted {
					fmt.Printf("auto-run: payment %s completed, %d events:\n", p.PaymentID, len(p.Events))
					for _, ev := range p.Events {
						fmt.Printf("  %s  %s  by %s\n", ev.Timestamp.Format(time.RFC3339), ev.Status, ev.Actor)
					}
					return
				}
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
