package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/edupulse/examd/internal/config"
	"github.com/edupulse/examd/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	c := defaultConfig()

	// CONFIG_PATH is optional; defaults plus environment variables are
	// enough to boot a local instance.
	if err := config.Load(os.Getenv("CONFIG_PATH"), &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

func defaultConfig() server.Config {
	var c server.Config

	c.HTTP.Port = 8080

	c.Postgres.Addr = "localhost:5432"
	c.Postgres.User = "postgres"
	c.Postgres.Pass = "postgres"
	c.Postgres.Name = "examd"

	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "examd"

	c.Engine.StrikeLimit = 3
	c.Engine.MinAttemptFraction = 0.1
	c.Engine.ShuffleOptions = true
	c.Engine.PracticeSecondsPerQ = 90
	c.Engine.CollaboratorTimeoutMS = 2000
	c.Engine.SweepIntervalSeconds = 300

	return c
}
