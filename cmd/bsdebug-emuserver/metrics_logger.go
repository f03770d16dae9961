package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seanpm2001/roku-debug/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"requests_issued", snap.RequestsIssued,
					"responses_dispatched", snap.ResponsesDispatched,
					"updates_received", snap.UpdatesReceived,
					"protocol_violations", snap.ProtocolViolations,
					"telnet_commands_done", snap.TelnetCommandsDone,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
