package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/seanpm2001/roku-debug/internal/bsdebug"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

func devicePipe(t *testing.T) (client net.Conn, device net.Conn) {
	t.Helper()
	client, device = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		device.Close()
	})
	return client, device
}

func writeAndDrain(t *testing.T, device net.Conn, buf []byte) {
	t.Helper()
	if _, err := device.Write(buf); err != nil {
		t.Fatalf("device write: %v", err)
	}
}

// readN reads exactly n bytes off device, the test already knowing the
// length of the frame it expects (control-channel frames are all short
// and fixed-shape in these tests).
func readN(t *testing.T, device net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := readFull(device, buf); err != nil {
		t.Fatalf("device read: %v", err)
	}
	return buf
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// handshakeOnDevice reads the bare magic cstring the client sends, then
// writes back a handshake response for version 3.1.0.
func handshakeOnDevice(t *testing.T, device net.Conn) {
	t.Helper()
	magicBuf := readN(t, device, len(protocol.HandshakeMagic)+1)
	got, outcome := bsdebug.HandshakeRequestFromBuffer(magicBuf)
	if !outcome.Success || got.Magic != protocol.HandshakeMagic {
		t.Fatalf("unexpected handshake request bytes: %q", magicBuf)
	}
	resp := bsdebug.NewHandshakeResponse(3, 1, 0, 1700000000)
	writeAndDrain(t, device, resp.ToBuffer())
}

func TestHandshakeRoundTrip(t *testing.T) {
	client, device := devicePipe(t)
	s := New(client)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- s.Run(ctx) }()

	handshakeOnDevice(t, device)

	deadline := time.After(time.Second)
	for {
		if s.HandshakeComplete() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("handshake never completed")
		case <-time.After(time.Millisecond):
		}
	}

	v := s.ProtocolVersion()
	if v.Major != 3 || v.Minor != 1 || v.Patch != 0 {
		t.Fatalf("unexpected negotiated version: %+v", v)
	}

	device.Close()
	<-done
}

func TestFirstRunContinueQuirk(t *testing.T) {
	client, device := devicePipe(t)
	s := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	handshakeOnDevice(t, device)

	// Device announces the boot-time stop.
	upd := bsdebug.NewAllThreadsStoppedUpdate(0, protocol.StopReasonNormal, "")
	writeAndDrain(t, device, upd.ToBuffer())

	// The session must respond with a Continue request, not surface a stop.
	hdr := readN(t, device, 4)
	pl := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24
	rest := readN(t, device, pl-4)
	full := append(hdr, rest...)

	rid, cmd, ok := peekRequest(full)
	if !ok {
		t.Fatalf("could not parse request frame: %x", full)
	}
	if cmd != protocol.CommandContinue {
		t.Fatalf("expected Continue, got %v", cmd)
	}
	if rid == 0 {
		t.Fatalf("expected non-zero request id")
	}

	if s.Stopped() {
		t.Fatal("first-run stop must not be surfaced as Stopped")
	}
}

// peekRequest is a tiny test-local decoder for the fixed-shape empty
// request frames this package writes (packet_length, request_id, command).
func peekRequest(data []byte) (requestID uint32, command protocol.CommandCode, ok bool) {
	if len(data) < 12 {
		return 0, 0, false
	}
	le := func(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24 }
	return le(data[4:8]), protocol.CommandCode(le(data[8:12])), true
}

func TestSplitDeliveryAcrossChunks(t *testing.T) {
	client, device := devicePipe(t)
	s := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	handshakeOnDevice(t, device)

	// Boot-time stop: absorbed by the first-run-continue quirk, not surfaced.
	boot := bsdebug.NewAllThreadsStoppedUpdate(0, protocol.StopReasonNormal, "")
	writeAndDrain(t, device, boot.ToBuffer())
	readN(t, device, 12) // the Continue request the quirk issues in response

	stopCh := make(chan StopEvent, 1)
	s.mu.Lock()
	s.onStop = func(ev StopEvent) { stopCh <- ev }
	s.mu.Unlock()

	upd := bsdebug.NewAllThreadsStoppedUpdate(2, protocol.StopReasonBreak, "breakpoint")
	full := upd.ToBuffer()

	// Deliver in three separate writes to exercise reassembly.
	third := len(full) / 3
	writeAndDrain(t, device, full[:third])
	writeAndDrain(t, device, full[third:2*third])
	writeAndDrain(t, device, full[2*third:])

	select {
	case ev := <-stopCh:
		if ev.PrimaryThreadIndex != 2 || ev.Reason != protocol.StopReasonBreak {
			t.Fatalf("unexpected stop event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("stop event never surfaced")
	}

	if !s.Stopped() {
		t.Fatal("expected Stopped() true after second stop")
	}
}

func TestContinueRejectedWhenNotStopped(t *testing.T) {
	client, _ := devicePipe(t)
	s := New(client)
	if _, err := s.Continue(); err != ErrNotStopped {
		t.Fatalf("expected ErrNotStopped, got %v", err)
	}
}

func TestExitChannelUnconditional(t *testing.T) {
	client, device := devicePipe(t)
	s := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	handshakeOnDevice(t, device)

	exitErrCh := make(chan error, 1)
	go func() {
		_, err := s.ExitChannel()
		exitErrCh <- err
	}()

	full := readN(t, device, 12)
	if err := <-exitErrCh; err != nil {
		t.Fatalf("ExitChannel: %v", err)
	}
	rid, cmd, ok := peekRequest(full)
	if !ok || cmd != protocol.CommandExitChannel || rid == 0 {
		t.Fatalf("unexpected exit channel frame: %x", full)
	}
}

func TestIOPortLinesReassembledAcrossReads(t *testing.T) {
	controlClient, controlDevice := devicePipe(t)
	ioClient, ioDevice := net.Pipe()
	t.Cleanup(func() { ioClient.Close(); ioDevice.Close() })

	lines := make(chan string, 4)
	s := New(controlClient,
		WithOnIOPortLine(func(l string) { lines <- l }),
		withIODialer(func(addr string) (net.Conn, error) { return ioClient, nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	handshakeOnDevice(t, controlDevice)

	upd := bsdebug.NewIOPortOpenedUpdate(8085)
	writeAndDrain(t, controlDevice, upd.ToBuffer())

	go func() {
		_, _ = ioDevice.Write([]byte("hello wo"))
		_, _ = ioDevice.Write([]byte("rld\r\nsecond line\n"))
	}()

	want := []string{"hello world", "second line"}
	for _, w := range want {
		select {
		case got := <-lines:
			if got != w {
				t.Fatalf("line mismatch: got %q want %q", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for line %q", w)
		}
	}
}
