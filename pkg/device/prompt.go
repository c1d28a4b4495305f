package device

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	BufferSize        = 4096
	PromptPassword    = "password:"
	PromptEnable      = ">"
	PromptPrivileged  = "#"
	TerminalLengthCmd = "terminal length 0"
)

var (
	promptPattern = regexp.MustCompile(`^[\w.\-@/:()]+[>#]$`)
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

	// substrings of IOS error replies, matched case-insensitively at the
	// start of a line after the "% " marker
	commandErrHints = []string{
		"invalid input",
		"incomplete command",
		"ambiguous command",
		"unknown command",
		"unrecognized command",
		"invalid command",
		"authorization failed",
	}
)

type chunk struct {
	data []byte
	err  error
}

// promptReader accumulates device output until an expected prompt shows up.
// A single goroutine pumps the underlying reader so that reads can be
// abandoned on timeout without leaking a blocked Read.
type promptReader struct {
	chunks   <-chan chunk
	stop     chan struct{}
	stopOnce sync.Once
	pending  strings.Builder
	err      error
}

func newPromptReader(r io.Reader) *promptReader {
	ch := make(chan chunk, 16)
	stop := make(chan struct{})
	send := func(c chunk) bool {
		select {
		case ch <- c:
			return true
		case <-stop:
			return false
		}
	}
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, BufferSize)
			n, err := r.Read(buf)
			if n > 0 && !send(chunk{data: buf[:n]}) {
				return
			}
			if err != nil {
				send(chunk{err: err})
				return
			}
		}
	}()
	return &promptReader{chunks: ch, stop: stop}
}

// close releases the pump goroutine. The underlying reader must be closed
// by the caller for a pending Read to return.
func (p *promptReader) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// readUntil returns everything read since the previous call once match
// reports true for the accumulated text.
func (p *promptReader) readUntil(ctx context.Context, timeout time.Duration, match func(string) bool) (string, error) {
	if text := p.pending.String(); text != "" && match(text) {
		p.pending.Reset()
		return text, nil
	}
	if p.err != nil {
		return p.drain(), p.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.drain(), ctx.Err()
		case <-timer.C:
			return p.drain(), fmt.Errorf("%w after %s", ErrPromptTimeout, timeout)
		case c, ok := <-p.chunks:
			if !ok || c.err != nil {
				p.err = ErrSessionClosed
				if c.err != nil && c.err != io.EOF {
					p.err = fmt.Errorf("%w: %v", ErrSessionClosed, c.err)
				}
				return p.drain(), p.err
			}
			p.pending.WriteString(normalize(string(c.data)))
			if text := p.pending.String(); match(text) {
				p.pending.Reset()
				return text, nil
			}
		}
	}
}

func (p *promptReader) drain() string {
	text := p.pending.String()
	p.pending.Reset()
	return text
}

func normalize(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// atPrompt reports whether text ends with an IOS EXEC prompt.
func atPrompt(text string) bool {
	return promptPattern.MatchString(lastLine(text))
}

func atPrivilegedPrompt(text string) bool {
	line := lastLine(text)
	return promptPattern.MatchString(line) && strings.HasSuffix(line, PromptPrivileged)
}

func atPasswordOrPrompt(text string) bool {
	return strings.HasSuffix(strings.ToLower(lastLine(text)), PromptPassword) || atPrompt(text)
}

// commandOutput strips the echoed command line and the trailing prompt.
func commandOutput(raw, command string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], command) {
		lines = lines[1:]
	}
	if len(lines) > 0 && atPrompt(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// commandError returns the first IOS error line found in output.
func commandError(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "%") {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, hint := range commandErrHints {
			if strings.Contains(lower, hint) {
				return trimmed, true
			}
		}
	}
	return "", false
}
