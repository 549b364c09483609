package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"virtual-market/internal/config"
	"virtual-market/internal/database"
	"virtual-market/internal/handler"
	"virtual-market/internal/logging"
	"virtual-market/internal/metrics"
	"virtual-market/internal/notify"
	"virtual-market/internal/repo"
	"virtual-market/internal/service"
	"virtual-market/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orderRepo, health := openStore(ctx, cfg, log)
	defer health.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := notify.NewHub(log, m)
	push := notify.NewPushRegistry(subscriptionStore(ctx, cfg, log), &notify.VAPIDSender{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:    cfg.Push.VAPIDSubject,
		Client:     &http.Client{Timeout: cfg.NotifyTimeout},
	}, log)

	hooks := []notify.Hook{hub}
	if cfg.Push.Enabled() {
		hooks = append(hooks, push)
	} else {
		log.Warn("VAPID keys not set, browser push disabled")
	}
	if cfg.Email.Enabled() {
		hooks = append(hooks, &notify.EmailHook{
			APIKey:     cfg.Email.BrevoAPIKey,
			Sender:     cfg.Email.Sender,
			SenderName: cfg.Email.SenderName,
			Client:     &http.Client{Timeout: cfg.NotifyTimeout},
		})
	}
	if cfg.SMS.Enabled() {
		hooks = append(hooks, notify.NewSMSHook(cfg.SMS.TwilioSID, cfg.SMS.TwilioToken, cfg.SMS.From))
	}
	if cfg.Kafka.Brokers != "" {
		kh := notify.NewKafkaHook(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kh.Close()
		hooks = append(hooks, kh)
	}
	names := make([]string, 0, len(hooks))
	for _, h := range hooks {
		names = append(names, h.Name())
	}
	log.WithField("hooks", names).Info("notification hooks configured")

	dispatcher := notify.NewDispatcher(log, notify.DispatcherOptions{
		QueueSize: cfg.HookQueueSize,
		Timeout:   cfg.NotifyTimeout,
		Observer:  m,
	}, hooks...)

	orderService := service.NewOrderService(orderRepo, dispatcher, log, service.Options{
		DeliveryWindow: cfg.DeliveryWindow,
		Recorder:       m,
	})

	archiver := worker.NewArchiveWorker(orderService, log, cfg.ArchiveAfter, cfg.ArchiveInterval)
	go archiver.Run(ctx)

	router := handler.NewRouter(handler.Deps{
		Orders:         orderService,
		Push:           push,
		Hub:            hub,
		Health:         health,
		Metrics:        m,
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("order service listening on :%s (store=%s)", cfg.Port, cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	dispatcher.Close()
}

func openStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (repo.OrderRepo, database.Service) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory order store, orders are lost on restart")
		return repo.NewMemoryOrderRepo(), database.NewMemory()
	}
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}
	log.Info("connected to postgres")
	return repo.NewOrderRepo(db), database.New(db)
}

func subscriptionStore(ctx context.Context, cfg config.Config, log *logrus.Logger) notify.SubscriptionStore {
	if cfg.Push.Store != "redis" {
		return notify.NewMemorySubscriptionStore()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Push.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Info("connected to redis")
	return notify.NewRedisSubscriptionStore(rdb)
}
