package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/trunov/mediapress/cmd/migrate"
	"github.com/trunov/mediapress/internal/cache"
	"github.com/trunov/mediapress/internal/config"
	"github.com/trunov/mediapress/internal/optimizer"
	"github.com/trunov/mediapress/internal/optimizer/videocodec"
	"github.com/trunov/mediapress/internal/preview"
	"github.com/trunov/mediapress/internal/queue"
	"github.com/trunov/mediapress/internal/r2"
	"github.com/trunov/mediapress/internal/redisholder"
	"github.com/trunov/mediapress/internal/redismanager"
	"github.com/trunov/mediapress/internal/repository/storage"
	"github.com/trunov/mediapress/internal/transcoder"
	"github.com/trunov/mediapress/internal/transport/handler"
	"github.com/trunov/mediapress/internal/transport/router"
	use_case "github.com/trunov/mediapress/internal/use-case"
)

type App struct {
	HttpServer *http.Server
	r2Storage  *r2.S3
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations)
	if err != nil {
		return nil, err
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	holder, err := redisholder.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	rc := holder.Get()
	rm := redismanager.NewManager(rc)

	redisCache := cache.NewCache("mediapress:media", rc)

	r2Storage := r2.NewStorage(&cfg.R2, redisCache)

	producer := queue.Init(ctx, rc, cfg.Preview, r2Storage)

	videos := videocodec.NewProvider(func() (transcoder.Transcoder, error) {
		t, err := transcoder.Load(cfg.FFmpeg)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	opt := optimizer.New(videos)

	previews, err := preview.NewProvider("", "/previews")
	if err != nil {
		return nil, err
	}

	uc := use_case.New(repo, r2Storage, rm, producer, opt, cfg)

	h := handler.New(uc, cfg, previews)
	r := router.NewRouter(h, previews.Dir())

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		HttpServer: s,
		r2Storage:  r2Storage,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting server")
	return a.HttpServer.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.r2Storage.Close()
	return a.HttpServer.Shutdown(ctx)
}
