// Package telnet implements the command pipeline for the device's
// interactive BrightScript debugger console: a FIFO of one command at a
// time, each promoted to the wire only once the console is sitting at
// its idle prompt, held until the console's next prompt terminates its
// output, with the command's own echo and known junk lines (interrupt
// warnings) stripped from the returned output.
//
// Scheduling is built on internal/actionqueue: Execute enqueues an
// action that writes the command once the console is at its prompt and
// then, on every Drain triggered by new bytes off the wire, checks
// whether the buffered console output now contains a prompt. Write
// bypasses the queue entirely for callers that need to push raw bytes
// (e.g. a break sequence) without waiting their turn.
//
// Every inbound chunk also runs through a normalisation pass before
// dispatch: it is forwarded verbatim to an optional console-output
// subscriber, folded into an accumulator, reflowed so a prompt token
// always starts its own line, and stripped of bare thread-attached
// notices. Text the accumulator can't attribute to an active command is
// surfaced to an optional unhandled-console-output subscriber.
package telnet

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/seanpm2001/roku-debug/internal/actionqueue"
	"github.com/seanpm2001/roku-debug/internal/metrics"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

// noOpPrompt is written to coax the device into reprinting its prompt
// after a thread-attached notice that left the console output dangling
// without one.
const noOpPrompt = "print \"\"\r\n"

// junkPrefixes lists console lines stripped from a resolved command's
// output: the interrupt warning the device prints when a command can't
// be cleanly interrupted, and thread-attached notices (which, unlike
// the pure notice lines stripped during chunk normalisation, can carry
// extra per-thread detail here and so are matched by prefix).
var junkPrefixes = []string{
	protocol.TelnetInterruptWarning,
	protocol.TelnetThreadAttachedNotice,
}

// ExecuteOptions tunes how a queued command is scheduled.
type ExecuteOptions struct {
	// WaitForPrompt clears the at-prompt flag the instant the command is
	// written, even before any response bytes arrive — used for commands
	// that are known to print nothing until an unrelated later prompt
	// (e.g. resuming a paused thread).
	WaitForPrompt bool
	// InsertAtFront enqueues ahead of already-queued commands instead of
	// at the tail.
	InsertAtFront bool
}

// Client drives one telnet console connection.
type Client struct {
	conn  net.Conn
	queue *actionqueue.Queue

	mu                 sync.Mutex
	unhandledText      string
	isAtDebuggerPrompt bool
	activeWritten      bool
	closed             bool

	onClosed                 func(error)
	onConsoleOutput          func([]byte)
	onUnhandledConsoleOutput func(string)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithOnClosed registers the callback fired once when the connection is torn down.
func WithOnClosed(fn func(error)) Option { return func(c *Client) { c.onClosed = fn } }

// WithOnConsoleOutput registers a subscriber that sees every raw chunk
// read off the wire, before any normalisation or dispatch.
func WithOnConsoleOutput(fn func([]byte)) Option {
	return func(c *Client) { c.onConsoleOutput = fn }
}

// WithOnUnhandledConsoleOutput registers a subscriber that sees console
// text the pipeline could not attribute to an active command: idle
// chatter, and any leftover trailing a command's resolved output.
func WithOnUnhandledConsoleOutput(fn func(string)) Option {
	return func(c *Client) { c.onUnhandledConsoleOutput = fn }
}

// New constructs a Client bound to conn. Call Run to start its read loop.
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{conn: conn, queue: actionqueue.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads from the connection until it closes or ctx is cancelled,
// normalising each chunk and draining the command queue as new bytes
// arrive.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.processChunk(buf[:n])
		}
		if err != nil {
			c.fail(err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.onClosed != nil {
		c.onClosed(err)
	}
}

// processChunk runs one pass of the normalisation pipeline over a raw
// read, then attempts to promote the next queued command and dispatch
// any now-idle accumulated text.
func (c *Client) processChunk(raw []byte) {
	if c.onConsoleOutput != nil {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		c.onConsoleOutput(cp)
	}

	c.mu.Lock()
	c.unhandledText += string(raw)
	c.unhandledText = normalizePromptLines(c.unhandledText)
	c.unhandledText = stripThreadAttachedLines(c.unhandledText)
	c.isAtDebuggerPrompt = strings.HasSuffix(c.unhandledText, protocol.TelnetPrompt)
	danglingThreadAttach := !c.isAtDebuggerPrompt && strings.HasSuffix(strings.TrimRight(c.unhandledText, "\r\n"), protocol.TelnetThreadAttachedNotice)
	closed := c.closed
	c.mu.Unlock()

	if danglingThreadAttach {
		if !closed {
			_, _ = c.conn.Write([]byte(noOpPrompt))
		}
		return
	}

	// Flush any idle chatter before attempting to promote the next queued
	// command: once a command is written, unhandledText starts
	// accumulating that command's own response, and a stale prompt left
	// over from before promotion would otherwise be mistaken for the new
	// command's terminating prompt.
	c.dispatchIdle()
	c.queue.Drain()
	metrics.SetTelnetQueueDepth(c.queue.Len())
}

// normalizePromptLines inserts a newline before any prompt token that
// was concatenated directly onto the end of a preceding line, so every
// prompt occurrence starts its own line.
func normalizePromptLines(text string) string {
	const prompt = protocol.TelnetPrompt
	var b strings.Builder
	for {
		idx := strings.Index(text, prompt)
		if idx < 0 {
			b.WriteString(text)
			break
		}
		if idx > 0 && text[idx-1] != '\n' {
			b.WriteString(text[:idx])
			b.WriteByte('\n')
		} else {
			b.WriteString(text[:idx])
		}
		b.WriteString(prompt)
		text = text[idx+len(prompt):]
	}
	return b.String()
}

// stripThreadAttachedLines drops complete lines whose entire (trimmed)
// content is the thread-attached notice, which otherwise interleaves
// unpredictably with command output and idle console chatter. A
// trailing line not yet terminated by a newline is left untouched even
// if it matches the notice, so a caller can still detect a dangling
// thread-attached notice missing its prompt.
func stripThreadAttachedLines(text string) string {
	trailingPartial := !strings.HasSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	var last string
	if trailingPartial {
		last = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(strings.TrimRight(line, "\r")) == protocol.TelnetThreadAttachedNotice {
			continue
		}
		kept = append(kept, line)
	}
	if trailingPartial {
		kept = append(kept, last)
	}
	return strings.Join(kept, "\n")
}

// dispatchIdle emits accumulated text as unhandled-console-output when
// no command is active and the text looks complete (ends in a newline
// or the prompt); otherwise it is retained as a partial line awaiting
// more bytes.
func (c *Client) dispatchIdle() {
	c.mu.Lock()
	if c.activeWritten || c.unhandledText == "" {
		c.mu.Unlock()
		return
	}
	if !strings.HasSuffix(c.unhandledText, "\n") && !strings.HasSuffix(c.unhandledText, protocol.TelnetPrompt) {
		c.mu.Unlock()
		return
	}
	text := c.unhandledText
	c.unhandledText = ""
	c.mu.Unlock()

	if c.onUnhandledConsoleOutput != nil {
		c.onUnhandledConsoleOutput(text)
	}
}

// Execute enqueues command at the tail and blocks until the console's
// next prompt terminates its output (or ctx is done).
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	return c.execute(ctx, command, ExecuteOptions{})
}

// ExecuteWithOptions is Execute with explicit scheduling options.
func (c *Client) ExecuteWithOptions(ctx context.Context, command string, opts ExecuteOptions) (string, error) {
	return c.execute(ctx, command, opts)
}

// execute enqueues command, writes it to the console only once the
// pipeline is at its idle prompt, and blocks until the console's next
// prompt terminates its output. Only one command is ever in flight on
// the wire at a time; concurrent callers queue in FIFO order (or jump
// the queue with InsertAtFront).
func (c *Client) execute(ctx context.Context, command string, opts ExecuteOptions) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.mu.Unlock()

	var written bool
	var output string

	action := func() (bool, error) {
		c.mu.Lock()

		if c.closed {
			c.mu.Unlock()
			return false, ErrClosed
		}

		if !written {
			if !c.isAtDebuggerPrompt {
				c.mu.Unlock()
				return false, nil
			}
			if _, err := c.conn.Write([]byte(command + "\r\n")); err != nil {
				c.mu.Unlock()
				return false, err
			}
			written = true
			c.activeWritten = true
			if opts.WaitForPrompt {
				c.isAtDebuggerPrompt = false
			}
			c.mu.Unlock()
			return false, nil
		}

		idx := strings.Index(c.unhandledText, protocol.TelnetPrompt)
		if idx < 0 {
			c.mu.Unlock()
			return false, nil
		}
		raw := c.unhandledText[:idx]
		leftover := c.unhandledText[idx+len(protocol.TelnetPrompt):]
		c.unhandledText = ""
		c.activeWritten = false
		c.mu.Unlock()

		output = cleanOutput(raw, command)
		metrics.IncTelnetCommandExecuted()
		if leftover != "" && c.onUnhandledConsoleOutput != nil {
			c.onUnhandledConsoleOutput(leftover)
		}
		return true, nil
	}

	var result *actionqueue.Result
	if opts.InsertAtFront {
		result = c.queue.RunFront(action)
	} else {
		result = c.queue.Run(action)
	}
	// Give the new item an immediate chance to run rather than waiting for
	// the next inbound read to trigger a Drain — otherwise a command
	// queued while the console is already at its prompt would never be
	// written until more bytes happened to arrive.
	c.queue.Drain()

	if err := result.Wait(ctx); err != nil {
		return "", err
	}
	return output, nil
}

// Write pushes raw bytes directly to the console, bypassing the command
// queue. Used for out-of-band signals (e.g. a break sequence) that must
// not wait behind a pending Execute.
func (c *Client) Write(raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := c.conn.Write([]byte(raw))
	return err
}

// PendingCommands reports how many commands are queued, including one
// currently in flight awaiting its prompt.
func (c *Client) PendingCommands() int {
	return c.queue.Len()
}

// cleanOutput strips the command's own echo (the console mirrors typed
// input before producing output), known junk lines, and surrounding
// whitespace from a command's raw output.
func cleanOutput(raw, command string) string {
	lines := strings.Split(raw, "\n")
	var kept []string
	strippedEcho := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if !strippedEcho && strings.TrimSpace(trimmed) == strings.TrimSpace(command) {
			strippedEcho = true
			continue
		}
		if isJunkLine(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\r\n")
}

func isJunkLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, prefix := range junkPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
