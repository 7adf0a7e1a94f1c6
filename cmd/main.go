package main

import (
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/trunov/mediapress/internal/app"
	"github.com/trunov/mediapress/internal/config"
)

const configFile = "config.json"

func main() {
	cfg := config.NewConfig()
	if err := cfg.Read(configFile); err != nil {
		log.Fatalf("read %s: %v", configFile, err)
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.SentryDSN,
		Environment: cfg.Sentry.Environment,
		Release:     "v1",
	})
	if err != nil {
		log.Fatalf("sentry.Init: %v", err)
	}
	// drain buffered events on the way out
	defer sentry.Flush(2 * time.Second)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(a.Run())
}
