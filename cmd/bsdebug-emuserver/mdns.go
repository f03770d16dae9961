package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/seanpm2001/roku-debug/internal/discovery"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

// startMDNS advertises the emulated device over mDNS once the server has
// bound its listen address, withdrawing the advertisement when ctx ends.
func startMDNS(ctx context.Context, cfg *appConfig, port int, l *slog.Logger) {
	name := cfg.mdnsName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		name = fmt.Sprintf("bsdebug-emu-%s", host)
	}
	meta := []string{
		fmt.Sprintf("protocol_version=%d.%d.%d", protocol.DefaultProtocolMajor, protocol.DefaultProtocolMinor, protocol.DefaultProtocolPatch),
	}
	adv, err := discovery.Advertise(ctx, name, port, meta)
	if err != nil {
		l.Warn("mdns advertise failed", "err", err)
		return
	}
	l.Info("mdns advertising", "instance", name, "port", port)
	<-ctx.Done()
	adv.Shutdown()
}
