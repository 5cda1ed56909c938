package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"admincore.org/internal/access"
	"admincore.org/internal/audit"
	"admincore.org/internal/httpapi"
	"admincore.org/internal/obs"
	"admincore.org/internal/payment"
	"admincore.org/internal/plan"
	"admincore.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Local overrides; absent file is fine.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("ADMINCORE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing ADMINCORE_AUTH_SECRET")
	}
	webhookSecret := os.Getenv("ADMINCORE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Fatal("missing ADMINCORE_WEBHOOK_SECRET")
	}
	gatewayURL := os.Getenv("ADMINCORE_GATEWAY_URL")
	if gatewayURL == "" {
		log.Fatal("missing ADMINCORE_GATEWAY_URL")
	}

	// Stores: Postgres when a DSN is configured, in-memory otherwise
	// (single-process development runs).
	var (
		registry  access.Registry
		plans     plan.Store
		verifs    payment.Store
		trailDest audit.Store
		store     *pg.Store
	)
	if dsn := os.Getenv("ADMINCORE_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		registry = store
		plans = store.Plans()
		verifs = store.Verifications()
		trailDest = store.Audit()
	} else {
		log.Print("ADMINCORE_PG_DSN not set; using in-memory stores")
		registry = access.NewInMemoryRegistry()
		plans = plan.NewInMemory()
		verifs = payment.NewInMemory()
		trailDest = audit.NewInMemoryStore()
	}

	validator, err := access.NewValidator(registry, secret)
	if err != nil {
		log.Fatalf("validator: %v", err)
	}
	trail, err := audit.NewLog(trailDest)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	gateway, err := payment.NewHTTPGateway(gatewayURL, os.Getenv("ADMINCORE_GATEWAY_API_KEY"))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	workflow, err := payment.NewWorkflow(verifs, plans, gateway, trail, payment.Config{
		GatewayTimeout: envDuration("ADMINCORE_GATEWAY_TIMEOUT", 5*time.Second),
	})
	if err != nil {
		log.Fatalf("workflow: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if store != nil {
		probe.DB = store.DB()
	}

	api := httpapi.New(probe, version, validator, workflow, trail, []byte(webhookSecret))

	addr := os.Getenv("ADMINCORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Optional gRPC health endpoint for orchestrator probes.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("ADMINCORE_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe, version).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	// Recover verification attempts orphaned by a crashed instance.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := workflow.ReleaseStale(ctx, 10*time.Minute); err != nil {
					log.Printf("release stale verifications: %v", err)
				} else if n > 0 {
					log.Printf("released %d stale verifications", n)
				}
			}
		}
	}()

	log.Printf("Starting admincore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
