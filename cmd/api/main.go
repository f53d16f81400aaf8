package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/adapters"
	"pricewatch/internal/aws"
	"pricewatch/internal/config"
	"pricewatch/internal/dispatch"
	"pricewatch/internal/events"
	"pricewatch/internal/handlers"
	"pricewatch/internal/jobs"
	"pricewatch/internal/metrics"
	"pricewatch/internal/products"
	"pricewatch/internal/reaper"
)

func setupRouter(cfg handlers.PriceHandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterPriceRoutes(r, cfg)

	return r
}

// buildStorage returns the job store and durable product cache for the
// configured backend.
func buildStorage(ctx context.Context, cfg *config.Config, clients *aws.Clients) (jobs.Store, products.Cache, error) {
	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		return jobs.NewDynamoStore(clients.DynamoDB, cfg.Storage.JobsTable),
			products.NewDynamoCache(clients.DynamoDB, cfg.Storage.ProductsTable), nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := jobs.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		cache := products.NewPostgresCache(pool)
		if err := cache.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return store, cache, nil
	}
	return nil, nil, errors.New("unknown storage backend " + cfg.Storage.Backend)
}

func buildPublisher(cfg *config.Config, clients *aws.Clients) events.Publisher {
	switch cfg.Events.Backend {
	case config.EventsSQS:
		return events.NewSQSPublisher(clients.SQS, cfg.Events.SQSQueueURL)
	case config.EventsKafka:
		return events.NewKafkaPublisher(cfg.Events.KafkaBroker, cfg.Events.KafkaTopic)
	}
	return events.NopPublisher{}
}

func buildRegistry(cfg *config.Config) *adapters.Registry {
	if cfg.Scraper.APIKey == "" {
		log.Printf("[api] SCRAPER_API_KEY not set, serving deterministic mock products")
		return adapters.NewMockRegistry()
	}
	client := adapters.NewClient(adapters.ClientConfig{
		APIKey:       cfg.Scraper.APIKey,
		BaseURL:      cfg.Scraper.BaseURL,
		PollInterval: cfg.Scraper.PollInterval,
		MaxPolls:     cfg.Scraper.MaxPolls,
		HTTPTimeout:  cfg.Scraper.HTTPTimeout,
	})
	return adapters.NewScraperRegistry(client)
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	var clients *aws.Clients
	needAWS := cfg.Storage.Backend == config.BackendDynamoDB ||
		cfg.Events.Backend == config.EventsSQS ||
		cfg.Metrics.Enabled
	if needAWS {
		clients, err = aws.NewClients(ctx)
		if err != nil {
			log.Fatalf("failed to init aws clients: %v", err)
		}
	}

	jobStore, productCache, err := buildStorage(ctx, cfg, clients)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	if cfg.Cache.RedisAddr != "" {
		front := products.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPrefix, cfg.Cache.TTL)
		productCache = products.NewTiered(front, productCache)
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewCloudWatchRecorder(clients.CloudWatch, cfg.Metrics.Namespace)
	}
	publisher := buildPublisher(cfg, clients)

	tracker := jobs.NewTracker(jobStore, productCache, jobs.TrackerConfig{
		Timeout:        cfg.Jobs.Timeout,
		CreateRetryMax: cfg.Jobs.CreateRetryMax,
		WriteRetryMax:  cfg.Jobs.WriteRetryMax,
		Retention:      cfg.Jobs.Retention,
	})
	registry := buildRegistry(cfg)
	dispatcher := dispatch.New(tracker, productCache, registry, publisher, recorder, dispatch.Config{
		CacheTTL:             cfg.Cache.TTL,
		JobTimeout:           cfg.Jobs.Timeout,
		MaxConcurrentFetches: cfg.Fetch.MaxConcurrent,
	})
	rp := reaper.New(jobStore, cfg.Jobs.Timeout, cfg.Jobs.ReapInterval, recorder)

	r := setupRouter(handlers.PriceHandlerConfig{
		Dispatcher: dispatcher,
		Registry:   registry,
		Store:      jobStore,
		Reaper:     rp,
		Retention:  cfg.Jobs.Retention,
	})

	// if RUN_LOCAL is set, run a local HTTP server with the periodic reaper
	// alongside it; otherwise serve through the Lambda adapter and rely on
	// the sweeper binary for reaping.
	if cfg.RunLocal {
		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go rp.Run(runCtx)

		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
		go func() {
			log.Printf("running local server on %s", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to run local server: %v", err)
			}
		}()

		<-runCtx.Done()
		log.Printf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			log.Printf("dispatcher shutdown: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req lambdaevents.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
