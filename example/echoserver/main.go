//go:build linux
// +build linux

package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/y001j/asock"
	"github.com/y001j/asock/iouring"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:9999", "listen address")
	backlog := flag.Int("backlog", 8, "concurrently armed accepts")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ring, err := iouring.NewRing(1024, logger)
	if err != nil {
		logger.Error("ring setup failed", zap.Error(err))
		os.Exit(1)
	}
	defer ring.Close()

	listener, err := asock.NewSocket(ring,
		asock.WithReuseAddr(),
		asock.WithLogger(logger),
	)
	if err != nil {
		logger.Error("socket creation failed", zap.Error(err))
		os.Exit(1)
	}
	defer listener.Close()

	if err := listener.Bind(*addr); err != nil {
		logger.Error("bind failed", zap.String("addr", *addr), zap.Error(err))
		os.Exit(1)
	}
	if err := listener.Listen(*backlog); err != nil {
		logger.Error("listen failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("echo server listening", zap.String("addr", *addr))

	for {
		conn, peer, err := listener.Accept()
		if err != nil {
			logger.Error("accept failed", zap.Error(err))
			return
		}
		logger.Info("client connected", zap.Stringer("peer", peer))
		go echo(conn, logger)
	}
}

func echo(conn *asock.Socket, logger *zap.Logger) {
	defer conn.Close()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			logger.Warn("read failed", zap.Error(err))
			return
		}
		if n == 0 {
			logger.Info("client disconnected")
			return
		}

		data := buf[:n]
		for len(data) > 0 {
			w, err := conn.Write(data)
			if err != nil {
				logger.Warn("write failed", zap.Error(err))
				return
			}
			data = data[w:]
		}
	}
}
