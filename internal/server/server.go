package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/qduel/internal/content"
	"github.com/victornm/qduel/internal/event"
	"github.com/victornm/qduel/internal/history"
	"github.com/victornm/qduel/internal/master"
	"github.com/victornm/qduel/internal/match"
	"github.com/victornm/qduel/internal/telemetry"
	"github.com/victornm/qduel/internal/worker"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Auth struct {
		Secret string
	}

	Redis struct {
		Session struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Content struct {
			Addr string
			User string
			Pass string
			Name string
		}

		History struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Match struct {
		Units             int
		SessionsPerUnit   int
		AutoStartDelayMS  int
		PurgeDelaySeconds int
		HeartbeatSeconds  int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis redis.UniversalClient

		postgres struct {
			content *pgxpool.Pool
			history *pgxpool.Pool
		}
	}

	service struct {
		store   *match.Store
		content *content.Resolver
		history *history.Sink
		pool    *master.Pool
		hub     *master.Hub
	}

	http *http.Server
	stop chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, stop: make(chan struct{})}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initHTTP()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Session.Addrs,
		Password: s.c.Redis.Session.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.content, err = connect(s.c.Postgres.Content.Addr, s.c.Postgres.Content.User, s.c.Postgres.Content.Pass, s.c.Postgres.Content.Name)
	if err != nil {
		return fmt.Errorf("content: %w", err)
	}

	s.infra.postgres.history, err = connect(s.c.Postgres.History.Addr, s.c.Postgres.History.User, s.c.Postgres.History.Pass, s.c.Postgres.History.Name)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.store = match.NewStore(match.StoreConfig{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Session.Prefix,
	})

	s.service.content = content.NewResolver(s.infra.postgres.content)

	s.service.history = history.NewSink(history.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.history,
	})

	purgeDelay := time.Duration(s.c.Match.PurgeDelaySeconds) * time.Second
	if purgeDelay <= 0 {
		purgeDelay = match.DefaultPurgeDelay
	}
	autoStart := time.Duration(s.c.Match.AutoStartDelayMS) * time.Millisecond
	if autoStart <= 0 {
		autoStart = match.DefaultAutoStartDelay
	}

	units := make([]*worker.Unit, 0, s.c.Match.Units)
	pending := make([]*match.Service, 0, s.c.Match.Units)
	for i := 0; i < s.c.Match.Units; i++ {
		engine := match.NewService(match.Config{
			Store:          s.service.store,
			Content:        s.service.content,
			EventBus:       s.eb,
			AutoStartDelay: autoStart,
			PurgeDelay:     purgeDelay,
		})
		pending = append(pending, engine)
		units = append(units, worker.NewUnit(fmt.Sprintf("unit-%d", i), engine, nil))
	}

	s.service.pool = master.NewPool(units, s.c.Match.SessionsPerUnit)

	s.service.hub = master.NewHub(master.HubConfig{
		Pool:           s.service.pool,
		JoinCodes:      s.service.store,
		EventBus:       s.eb,
		RouteRetention: purgeDelay,
	})

	// Engines and units deliver through the hub, which exists only now;
	// close the cycle before anything starts.
	for i, engine := range pending {
		engine.SetEmitter(s.service.hub)
		units[i].SetEmitter(s.service.hub)
	}
}

func (s *Server) initHTTP() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")

	e.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	h := master.NewHandler(s.service.hub, s.c.Auth.Secret)
	e.GET("/ws", h.HandleWebSocket)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	s.service.pool.Start()
	go s.service.hub.Run()

	heartbeat := time.Duration(s.c.Match.HeartbeatSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.service.pool.Heartbeat()
			case <-s.stop:
				return nil
			}
		}
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(s.stop)

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.hub.Stop()
	s.service.pool.Stop()
	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
