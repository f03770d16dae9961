// Command bsdebug-emuserver runs a standalone emulated bsdebug control
// channel: a TCP listener that performs the handshake, answers requests
// with a default (empty) handler. It pushes no updates of its own;
// emuserver.Server.PushUpdate is reachable only from in-process callers.
// It exists to exercise internal/emuserver end to end and as a stand-in
// device for client development.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/seanpm2001/roku-debug/internal/emuserver"
	"github.com/seanpm2001/roku-debug/internal/metrics"
)

const version = "0.1.0"

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("bsdebug-emuserver %s\n", version)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	srv := emuserver.New(
		emuserver.WithListenAddr(cfg.listenAddr),
		emuserver.WithLogger(l),
		emuserver.WithHandshakeTimeout(cfg.handshakeTO),
	)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := 0
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		startMDNS(ctx, cfg, portNum, l)
	}()

	if cfg.metricsAddr != "" {
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = srv.Shutdown(context.Background())
	wg.Wait()
}
