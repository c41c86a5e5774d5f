package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"booth-pos/config"
	"booth-pos/consumers"
	"booth-pos/controllers"
	"booth-pos/database"
	"booth-pos/middlewares"
	"booth-pos/rabbitmq"
	"booth-pos/services"
	"booth-pos/utils"
)

func main() {
	cfg := config.LoadConfig()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("order server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orders, menu, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher services.EventPublisher = services.NoopPublisher{}
	var rmq *rabbitmq.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rmq, err = rabbitmq.NewRabbitMQ(cfg, log)
		if err != nil {
			return err
		}
		defer rmq.Close()
		if err := rmq.SetupQueues(); err != nil {
			return err
		}
		publisher = rmq
	} else {
		log.Info("RABBITMQ_URL not set, order events are not published")
	}

	svc := services.NewOrderService(orders, menu, publisher, services.Options{
		Location:       cfg.Location(),
		PaymentTimeout: cfg.PaymentTimeout,
		Limits:         services.Limits{Kiosk: cfg.MaxKioskQuantity, POS: cfg.MaxPOSQuantity},
		Logger:         log,
	})

	authn, err := middlewares.NewAuthenticator(cfg.JWTSecret, map[utils.Role]string{
		utils.RoleStaff: cfg.StaffPassword,
		utils.RoleAdmin: cfg.AdminPassword,
	}, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if cfg.StaffPassword == "" {
		log.Warn("STAFF_PASSWORD not set, staff routes accept tokens only")
	}

	gin.SetMode(gin.ReleaseMode)
	router := controllers.NewRouter(
		controllers.NewOrderController(svc, log),
		controllers.NewAuthController(authn, cfg.TokenTTL, log),
		authn,
		log,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("order server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return services.NewExpiryService(svc, cfg.ExpiryCheckInterval, log).Start(gctx)
	})
	if rmq != nil {
		consumer := consumers.NewOrderConsumer(rmq.Channel, cfg.OrderQueue, cfg.DeadLetterQueue, svc, log)
		g.Go(func() error {
			// Losing the broker leaves the expiry ticker in charge; the server keeps running.
			if err := consumer.Start(gctx); err != nil {
				log.WithError(err).Error("order consumer stopped")
			}
			return nil
		})
	}
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (services.OrderRepository, services.MenuRepository, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store, orders are lost on restart")
		store := database.NewMemoryStore(database.DefaultMenu())
		return store, store.Menu(), func() {}, nil
	}

	dsn := cfg.MySQLDSN()
	if err := database.Migrate(dsn); err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("database connected")
	return database.NewOrderRepo(db), database.NewMenuRepo(db), func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("close database")
		}
	}, nil
}
