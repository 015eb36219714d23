// Command sessiondemo exercises a Handler against a live Redis instance:
// open, read, write, read-back, and destroy, with the User-Agent taken from
// the -user-agent flag so the bot-lifetime policy can be exercised.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"redissess/internal/config"
	"redissess/src/logger"
	"redissess/src/session"
)

func main() {
	configPath := flag.String("config", "", "optional path to a session config.yaml")
	userAgent := flag.String("user-agent", "Mozilla/5.0 (demo)", "User-Agent to classify for the bot lifetime policy")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("sessiondemo: no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("sessiondemo: load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: "debug", Format: "console", Output: "stdout"})
	if err != nil {
		log.Fatalf("sessiondemo: build logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handler, err := session.New(ctx, cfg, session.Options{Logger: zlog})
	if err != nil {
		log.Fatalf("sessiondemo: connect: %v", err)
	}
	defer handler.Close()

	id := uuid.NewString()
	reqCtx := session.RequestContext{
		Method:    "GET",
		Host:      "localhost",
		URI:       "/demo",
		UserAgent: *userAgent,
	}

	if _, err := handler.Read(ctx, id, reqCtx); err != nil {
		log.Fatalf("sessiondemo: initial read: %v", err)
	}
	fmt.Printf("opened session %s after %d failed lock attempts\n", id, handler.FailedLockAttempts())

	if !handler.Write(ctx, id, []byte("hello from sessiondemo")) {
		log.Fatalf("sessiondemo: write failed")
	}
	fmt.Println("wrote session payload")

	handler2, err := session.New(ctx, cfg, session.Options{Logger: zlog})
	if err != nil {
		log.Fatalf("sessiondemo: reconnect: %v", err)
	}
	defer handler2.Close()

	data, err := handler2.Read(ctx, id, reqCtx)
	if err != nil {
		log.Fatalf("sessiondemo: read-back: %v", err)
	}
	fmt.Printf("read back: %q\n", string(data))

	if !handler2.Destroy(ctx, id) {
		log.Fatalf("sessiondemo: destroy failed")
	}
	fmt.Println("destroyed session")
}
