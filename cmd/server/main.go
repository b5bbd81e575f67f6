package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace_back_end/internal/cache"
	"marketplace_back_end/internal/cart"
	"marketplace_back_end/internal/config"
	"marketplace_back_end/internal/database"
	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/handlers"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/logger"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/middleware"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/order"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/repository"
	"marketplace_back_end/internal/repository/memory"
	"marketplace_back_end/internal/repository/scylla"
	"marketplace_back_end/internal/routes"
	"marketplace_back_end/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

type stores struct {
	orders interface {
		repository.OrderRepository
		repository.OrderHistory
	}
	timeline repository.TimelineRepository
	products repository.ProductRepository
	coupons  repository.CouponRepository
	accounts repository.AccountRepository
	payments repository.PaymentRepository
	events   repository.EventLedger
	close    func()
}

func main() {
	config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		panic(err)
	}
	log := logger.Must("marketplace", cfg.Env)
	defer log.Sync() //nolint:errcheck

	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET manquant")
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()

	st, err := openStores(cfg, log)
	if err != nil {
		log.Fatal("❌ Stockage indisponible", zap.Error(err))
	}
	defer st.close()

	var (
		rdb   *redis.Client
		carts order.CartStore
		idem  order.IdempotencyStore
	)
	if cfg.StorageDriver == "memory" {
		carts, idem = memory.NewCartStore(), memory.NewIdempotency()
		log.Info("ℹ️ Panier et idempotence en mémoire, limitation de débit désactivée")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err = cache.NewRedis(ctx, cfg.RedisHost, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.Fatal("❌ Redis indisponible", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("✅ Redis connecté", zap.String("addr", cfg.RedisHost))
		carts, idem = cache.NewRedisCartStore(rdb), cache.NewRedisIdempotency(rdb)
	}

	gateways := payment.NewRegistry(buildGateways(cfg, log)...)

	hub := notify.NewHub(log, cfg.AllowedOrigins...)
	sinks := []notify.Sink{hub}
	if cfg.SMTPHost != "" {
		sinks = append(sinks, notify.NewEmailSink(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
		log.Info("📧 Notifications email activées", zap.String("host", cfg.SMTPHost))
	}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		sinks = append(sinks, kafkaSink)
		log.Info("📦 Événements commande publiés sur Kafka", zap.String("topic", cfg.KafkaOrderTopic))
	}
	dispatcher := notify.NewAsync(notify.NewFanout(log, sinks...), notifyTimeout)

	ledger := inventory.NewLedger(st.products, m, log)
	discounts := discount.NewEngine(st.coupons, st.orders, m, log)
	engine := order.NewEngine(
		order.Config{
			Currency: cfg.Currency,
			Pricing:  order.Pricing{TaxRate: cfg.TaxRate, FreeShippingThreshold: cfg.FreeShippingThreshold},
		},
		order.Deps{
			Orders:      st.orders,
			Timeline:    st.timeline,
			Products:    st.products,
			Accounts:    st.accounts,
			Ledger:      ledger,
			Discounts:   discounts,
			Gateways:    gateways,
			Carts:       carts,
			Idempotency: idem,
			Notifier:    dispatcher,
			Metrics:     m,
			Log:         log,
		},
	)

	h := &handlers.Handlers{
		Orders:    engine,
		Discounts: discounts,
		Carts:     cart.NewService(carts, st.products, log),
		Webhooks:  webhook.NewReconciler(gateways, st.events, st.payments, st.orders, engine, m, log),
		Hub:       hub,
	}

	r := routes.NewRouter(routes.Options{
		Handlers:       h,
		Auth:           middleware.NewAuth(cfg.JWTSecret, log),
		RateLimiter:    middleware.NewRateLimiter(rdb, log),
		Metrics:        m,
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("🚀 Serveur marketplace lancé", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("❌ Serveur HTTP arrêté", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("🧹 Arrêt en cours...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("❌ Arrêt HTTP forcé", zap.Error(err))
	}

	// Les notifications en vol partent avant la fermeture du producteur Kafka.
	dispatcher.Close()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn("⚠️ Fermeture Kafka", zap.Error(err))
		}
	}
	log.Info("✅ Serveur arrêté proprement")
}

func openStores(cfg config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("⚠️ STORAGE_DRIVER=memory : les données sont perdues à l'arrêt")
		return &stores{
			orders:   memory.NewOrderRepository(),
			timeline: memory.NewTimelineRepository(),
			products: memory.NewProductRepository(),
			coupons:  memory.NewCouponRepository(),
			accounts: memory.NewAccountRepository(),
			payments: memory.NewPaymentRepository(),
			events:   memory.NewEventLedger(),
			close:    func() {},
		}, nil
	}

	sm, err := database.NewScyllaManager(log)
	if err != nil {
		return nil, err
	}
	ordersKS := sm.MustSession(database.KeyspaceOrders)
	productsKS := sm.MustSession(database.KeyspaceProducts)
	usersKS := sm.MustSession(database.KeyspaceUsers)

	return &stores{
		orders:   scylla.NewOrderRepository(ordersKS),
		timeline: scylla.NewTimelineRepository(ordersKS),
		coupons:  scylla.NewCouponRepository(ordersKS),
		payments: scylla.NewPaymentRepository(ordersKS),
		events:   scylla.NewEventLedger(ordersKS),
		products: scylla.NewProductRepository(productsKS),
		accounts: scylla.NewAccountRepository(usersKS),
		close:    sm.Close,
	}, nil
}

// buildGateways n'enregistre que les passerelles configurées.
func buildGateways(cfg config.Config, log *zap.Logger) []payment.Gateway {
	var gws []payment.Gateway
	if cfg.StripeSecretKey != "" {
		gws = append(gws, payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret))
		log.Info("💳 Stripe initialisé")
	}
	if cfg.RazorpayKeyID != "" {
		gws = append(gws, payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret))
		log.Info("💳 Razorpay initialisé")
	}
	if len(gws) == 0 {
		log.Warn("⚠️ Aucune passerelle de paiement configurée : le checkout échouera")
	}
	return gws
}
