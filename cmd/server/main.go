package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cart-service/config"
	"cart-service/internal/api"
	"cart-service/internal/broker"
	"cart-service/internal/catalog"
	"cart-service/internal/events"
	"cart-service/internal/payment"
	"cart-service/internal/redisclient"
	"cart-service/internal/service"
	"cart-service/internal/store"
	"cart-service/internal/util"
	"cart-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting cart service")

	tp, err := util.InitTracer("cart-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Storage.Driver, err)
	}
	defer st.Close()
	log.Printf("Store opened: driver=%s", cfg.Storage.Driver)

	bus := events.NewBus(logger)
	engine := service.NewEngine(service.EngineConfig{
		Pricing: service.PricingConfig{
			TaxRate:               cfg.Cart.TaxRate,
			ShippingCost:          cfg.Cart.ShippingCost,
			FreeShippingThreshold: cfg.Cart.FreeShippingThreshold,
		},
	}, st, bus)

	ctx := context.Background()
	if err := engine.Load(ctx); err != nil {
		log.Fatalf("Failed to load cart state: %v", err)
	}

	unit, err := currency.ParseISO(cfg.Cart.Currency)
	if err != nil {
		log.Fatalf("Invalid currency %q: %v", cfg.Cart.Currency, err)
	}

	var processor payment.Processor
	if cfg.Payment.Processor != "" {
		processor, err = payment.DefaultRegistry().Open(ctx, cfg.Payment.Processor, payment.Config{
			Endpoint: cfg.Payment.HostedURL,
			StoreID:  cfg.Payment.HostedStore,
			APIKey:   cfg.Payment.HostedKey,
			TestMode: cfg.Payment.TestMode,
		})
		if err != nil {
			log.Fatalf("Failed to initialize payment processor: %v", err)
		}
		log.Printf("Payment processor initialized: %s", processor.Name())
	}

	var submitter service.Submitter
	if cfg.Checkout.Mode == config.CheckoutModeRemote {
		submitter = service.NewHTTPSubmitter(&http.Client{}, cfg.Checkout.APIEndpoint, cfg.Checkout.Timeout())
	}
	checkout, err := service.NewCheckout(engine, service.CheckoutConfig{
		Mode:       cfg.Checkout.Mode,
		Currency:   unit,
		SessionTTL: cfg.Checkout.SessionTTL(),
	}, submitter, processor)
	if err != nil {
		log.Fatalf("Failed to initialize checkout: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var wg sync.WaitGroup

	scanner := catalog.NewScanner(logger)
	var watcher *catalog.Watcher
	if cfg.Catalog.SourceURL != "" {
		source := catalog.HTTPSource(&http.Client{Timeout: 10 * time.Second}, cfg.Catalog.SourceURL)
		watcher = catalog.NewWatcher(scanner, source, engine, catalog.WatcherOptions{
			Debounce:     time.Duration(cfg.Catalog.DebounceMillis) * time.Millisecond,
			PollInterval: time.Duration(cfg.Catalog.PollIntervalSeconds) * time.Second,
		})
		if _, err := watcher.ScanNow(ctx); err != nil {
			log.Printf("Initial catalog scan failed: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Catalog watcher error: %v", err)
			}
		}()
	}

	var adminWorker *worker.AdminWorker
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		log.Println("Kafka producer initialized")

		forwarder := broker.NewEventForwarder(producer, 1024)
		detach := forwarder.Attach(bus)
		defer detach()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Event forwarder error: %v", err)
			}
		}()

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
		adminWorker = worker.NewAdminWorker(consumer, engine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Admin worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(engine, checkout, scanner, watcher, api.Config{
		AdminAPIKey: cfg.Server.AdminAPIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if adminWorker != nil {
		if err := adminWorker.Stop(); err != nil {
			logger.Warn("Error stopping admin worker", zap.Error(err))
		}
	}
	wg.Wait()

	log.Println("Server exited")
}

// openStore selects the persistence backend
func openStore(cfg *config.Config) (store.Store, error) {
	keys := store.Keys{
		Cart:      cfg.Storage.CartKey,
		Inventory: cfg.Storage.InventoryKey,
		Orders:    cfg.Storage.OrdersKey,
	}

	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemory(keys)
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		st, err := store.NewRedis(client, keys)
		if err != nil {
			client.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		return store.NewPostgres(cfg.Database.URL, keys)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
