package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/activitymap"
	"github.com/goliatone/go-auth-accounts/config"
	"github.com/goliatone/go-auth-accounts/mailer"
	"github.com/goliatone/go-auth-accounts/metrics"
	"github.com/goliatone/go-auth-accounts/store"
	"github.com/goliatone/go-auth-accounts/throttle"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config  *config.Config
	logger  *glog.BaseLogger
	store   *store.Store
	mailer  auth.Mailer
	limiter auth.Limiter
	sink    auth.ActivitySink
	closers []func() error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("authd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := &App{config: cfg, logger: lgr}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithActivity(app); err != nil {
		panic(err)
	}

	WithLimiter(app)

	if err := WithMailer(ctx, app); err != nil {
		panic(err)
	}

	srv := WithHTTPServer(app)
	srv.Serve(cfg.HTTP.Address)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
}

func WithPersistence(ctx context.Context, app *App) error {
	s, err := store.Open(ctx, app.config.GetPersistence(), store.WithLogger(app.GetLogger("persistence")))
	if err != nil {
		return err
	}
	app.store = s
	app.closers = append(app.closers, s.Close)
	return nil
}

func WithActivity(app *App) error {
	sink, err := metrics.NewPrometheusSink(prometheus.DefaultRegisterer, "auth")
	if err != nil {
		return err
	}

	lgr := app.GetLogger("activity")
	app.sink = metrics.Chain(sink, auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		rec := activitymap.Normalize(event)
		lgr.Debug("activity", "verb", rec.Verb, "actor", rec.ActorID, "object", rec.ObjectID, "metadata", rec.Metadata)
		return nil
	}))
	return nil
}

func WithLimiter(app *App) {
	rc := app.config.Redis
	if rc.Address == "" {
		app.GetLogger("throttle").Warn("REDIS_ADDRESS not set, requests are not throttled")
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})
	app.closers = append(app.closers, client.Close)

	a := app.config.GetAuth()
	app.limiter = throttle.NewRedisLimiter(client, "auth:throttle", a.ThrottleLimit, a.GetThrottleWindow())
}

func WithMailer(ctx context.Context, app *App) error {
	var direct auth.Mailer = auth.NewLogMailer(app.GetLogger("mail"))

	if app.config.SMTP.Enabled() {
		renderer, err := mailer.NewRenderer(nil, app.config.HTTP.PublicBaseURL)
		if err != nil {
			return err
		}
		direct = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     app.config.SMTP.Host,
			Port:     app.config.SMTP.Port,
			Username: app.config.SMTP.Username,
			Password: app.config.SMTP.Password,
			From:     app.config.SMTP.From,
		}, renderer)
	}

	qc := app.config.Queue
	if qc.URL == "" {
		app.mailer = direct
		return nil
	}

	conn, ch, err := mailer.Dial(qc.URL, qc.Queue)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, ch.Close, conn.Close)

	deliveries, err := ch.Consume(qc.Queue, "authd-mailer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	consumer := mailer.NewConsumer(direct, app.GetLogger("mail:consumer"))
	go func() {
		if err := consumer.Run(ctx, deliveries); err != nil {
			app.GetLogger("mail:consumer").Warn("mail consumer stopped", "error", err)
		}
	}()

	app.mailer = mailer.NewQueueMailer(ch, qc.Queue)
	return nil
}

func WithHTTPServer(app *App) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		a = router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: !app.config.IsProduction(),
			StrictRouting:     false,
		}))
		a.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
		return a
	})

	opts := []auth.HTTPControllerOption{
		auth.WithControllerLogger(app.GetLogger("auth:http")),
		auth.WithControllerActivitySink(app.sink),
		auth.WithControllerDebug(!app.config.IsProduction()),
	}
	if app.mailer != nil {
		opts = append(opts, auth.WithControllerMailer(app.mailer))
	}
	if app.limiter != nil {
		opts = append(opts, auth.WithControllerLimiter(app.limiter))
	}
	if app.config.Auth.InvalidateSiblings {
		opts = append(opts, auth.WithControllerInvalidateSiblings())
	}
	if app.config.Auth.HashidAccountIDs {
		opts = append(opts, auth.WithControllerHashidIDs())
	}

	controller := auth.NewHTTPController(app.store.Repositories(), app.config.GetAuth(), opts...)
	auth.RegisterAuthRoutes(srv.Router(), controller)

	if !app.config.IsProduction() {
		routes := map[string]string{}
		for _, route := range controller.Routes() {
			routes[route.Name] = route.Method + " " + route.Path
		}
		fmt.Println(print.MaybePrettyJSON(routes))
	}

	return srv
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.GetLogger("app").Error("close failed", "error", err)
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
