package session

import (
	"net"
	"strconv"

	"github.com/seanpm2001/roku-debug/internal/logging"
)

// connectIOPort dials the device's program I/O port (same host as the
// control connection, the port named by an IOPortOpenedUpdate) and starts
// a goroutine that reassembles its stream into lines for onIOPortLine.
func (s *Session) connectIOPort(port uint32) {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		host = s.conn.RemoteAddr().String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := s.ioDialer(addr)
	if err != nil {
		logging.L().Warn("bsdebug session: io port dial failed", "addr", addr, "error", err)
		return
	}
	go s.readIOPortLines(conn)
}

// readIOPortLines reads from conn until it closes, splitting on '\n' and
// trimming a trailing '\r', reassembling lines split across reads.
func (s *Session) readIOPortLines(conn net.Conn) {
	defer conn.Close()

	var partial []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			var lines [][]byte
			lines, partial = splitLines(partial)
			s.mu.Lock()
			cb := s.onIOPortLine
			s.mu.Unlock()
			if cb != nil {
				for _, ln := range lines {
					cb(string(ln))
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// splitLines splits data on '\n', trimming a trailing '\r' from each
// complete line, and returns any trailing partial line unconsumed.
func splitLines(data []byte) (lines [][]byte, remainder []byte) {
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		end := i
		if end > start && data[end-1] == '\r' {
			end--
		}
		line := make([]byte, end-start)
		copy(line, data[start:end])
		lines = append(lines, line)
		start = i + 1
	}
	remainder = append([]byte(nil), data[start:]...)
	return lines, remainder
}
