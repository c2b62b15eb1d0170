//go:build linux
// +build linux

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/y001j/asock"
	"github.com/y001j/asock/iouring"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9999", "server address")
	msg := flag.String("msg", "hello, ring", "message to echo")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ring, err := iouring.NewRing(64, logger)
	if err != nil {
		logger.Error("ring setup failed", zap.Error(err))
		os.Exit(1)
	}
	defer ring.Close()

	conn, err := asock.NewSocket(ring, asock.WithNoDelay(), asock.WithLogger(logger))
	if err != nil {
		logger.Error("socket creation failed", zap.Error(err))
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.Connect(*addr); err != nil {
		logger.Error("connect failed", zap.String("addr", *addr), zap.Error(err))
		os.Exit(1)
	}

	payload := []byte(*msg)
	for len(payload) > 0 {
		n, err := conn.Write(payload)
		if err != nil {
			logger.Error("write failed", zap.Error(err))
			os.Exit(1)
		}
		payload = payload[n:]
	}
	// Half-close the write side once the buffered bytes drain, so the
	// server sees end-of-file after the echo.
	conn.Shutdown(unix.SHUT_WR)

	var got []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			logger.Error("read failed", zap.Error(err))
			os.Exit(1)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	fmt.Printf("echoed: %q\n", got)
}
