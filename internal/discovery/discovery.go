// Package discovery advertises and browses for bsdebug devices over
// mDNS, grounded on the teacher's zeroconf-based startMDNS helper:
// register an instance under a hardcoded service type, and tear it down
// when the context ends or Shutdown is called explicitly.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/seanpm2001/roku-debug/internal/metrics"
)

// ServiceType is the mDNS service type bsdebug devices advertise under.
const ServiceType = "_bsdebug._tcp"

// Advertisement is a live mDNS registration; call Shutdown to withdraw it.
type Advertisement struct {
	svc  *zeroconf.Server
	done chan struct{}
}

// Advertise registers instance under ServiceType on port, with meta as
// freeform TXT records (e.g. "protocol_version=3.1.0"). The registration
// is withdrawn when ctx ends or Shutdown is called, whichever comes
// first.
func Advertise(ctx context.Context, instance string, port int, meta []string) (*Advertisement, error) {
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	metrics.IncDiscoveryEvent("advertise")

	a := &Advertisement{svc: svc, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
		case <-a.done:
		}
		svc.Shutdown()
	}()
	return a, nil
}

// Shutdown withdraws the advertisement. Safe to call multiple times.
func (a *Advertisement) Shutdown() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	// zeroconf needs a beat to flush its goodbye packet before the
	// process exits or the next Advertise reuses the port.
	time.Sleep(50 * time.Millisecond)
}

// Device is one bsdebug device found by Browse.
type Device struct {
	Instance string
	Host     string
	Port     int
	Meta     []string
}

// Browse resolves bsdebug devices on the local network for up to
// timeout, returning whatever was found when it elapses.
func Browse(ctx context.Context, timeout time.Duration) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	var found []Device
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for e := range entries {
			host := e.HostName
			if len(e.AddrIPv4) > 0 {
				host = e.AddrIPv4[0].String()
			}
			found = append(found, Device{Instance: e.Instance, Host: host, Port: e.Port, Meta: e.Text})
			metrics.IncDiscoveryEvent("browse_found")
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := resolver.Browse(browseCtx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-browseCtx.Done()
	<-collectDone
	return found, nil
}
