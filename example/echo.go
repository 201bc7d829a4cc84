package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/msgp"
)

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	if err != nil {
		panic(err)
	}

	server, err := msgp.New(addr,
		msgp.ServerShutdownTimeoutOption(2*time.Second),
		msgp.ServerConnOptions(
			msgp.BufferSizeOption(16),
			msgp.MaxFrameSizeOption(64*1024),
			msgp.OnErrorOption(func(err error) msgp.ErrorAction {
				slog.Error("connection error", "error", err)
				return msgp.Disconnect
			}),
		),
	)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Echo
	echo := msgp.HandlerFunc(func(c *msgp.Conn, payload []byte) error {
		slog.Debug("frame received", "addr", c.Addr(), "size", len(payload))
		return c.WriteBlocking(ctx, payload)
	})

	slog.Info("server start", "addr", addr.String())
	if err := server.Serve(ctx, echo); err != nil && err != context.Canceled {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
