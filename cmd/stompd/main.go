// Command stompd runs a standalone STOMP 1.2 broker over TCP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stompd/broker/auth"
	"github.com/stompd/broker/broker"
	"github.com/stompd/broker/pkg/logger"
	"github.com/stompd/broker/queue"
	"github.com/stompd/broker/transport"
)

func main() {
	addr := flag.String("addr", ":61613", "listen address")
	storeKind := flag.String("store", "memory", "queue store backend: memory, pebble, redis")
	pebblePath := flag.String("pebble-path", "./stompd-data", "pebble store directory (store=pebble)")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address (store=redis)")
	tokens := flag.String("tokens", "", "comma-separated list of accepted bearer tokens")
	flag.Parse()

	log := logger.NewSlogLogger(slog.LevelInfo, os.Stdout)

	store, err := openStore(*storeKind, *pebblePath, *redisAddr)
	if err != nil {
		log.Error("failed to open queue store", "err", err)
		os.Exit(1)
	}

	authn := auth.NewStaticTokenAuthenticator()
	for _, tok := range strings.Split(*tokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			authn.Add(tok)
		}
	}

	b := broker.New(broker.Config{Store: store, Authenticator: authn, Logger: log})
	defer b.Close()

	listener := transport.NewListener(transport.DefaultListenerConfig(*addr), func(ctx context.Context, c *transport.Conn) error {
		return b.Serve(ctx, c)
	}, log)

	if err := listener.Start(); err != nil {
		log.Error("failed to start listener", "err", err)
		os.Exit(1)
	}
	log.Info("stompd listening", "addr", listener.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	_ = listener.Close()
}

func openStore(kind, pebblePath, redisAddr string) (queue.Store, error) {
	switch kind {
	case "memory":
		return queue.NewMemoryStore(), nil
	case "pebble":
		return queue.NewPebbleStore(queue.PebbleStoreConfig{Path: pebblePath})
	case "redis":
		return queue.NewRedisStore(queue.RedisStoreConfig{Addr: redisAddr})
	default:
		return nil, errUnknownStore{kind}
	}
}

type errUnknownStore struct{ kind string }

func (e errUnknownStore) Error() string { return "stompd: unknown store backend " + e.kind }
