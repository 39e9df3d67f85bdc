package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrNoResponse  = errors.New("serial: no response")
	ErrBadResponse = errors.New("serial: malformed response")
)

// lineConn exchanges '\r'-terminated commands and '\n'-terminated replies.
// Bytes received past the end of a reply are kept for the next one.
type lineConn struct {
	rw      io.ReadWriter
	pending []byte
	timeout time.Duration
}

// sendCommand writes cmd and returns the next reply line with surrounding
// whitespace trimmed. A reply starting with "ERR" becomes an error.
func (c *lineConn) sendCommand(cmd string) (string, error) {
	c.pending = c.pending[:0]
	if _, err := io.WriteString(c.rw, cmd+"\r"); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	if strings.HasPrefix(line, "ERR") {
		return "", fmt.Errorf("%s: device error: %s", cmd, strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	}
	return line, nil
}

// readLine polls the port until a full line arrives or the timeout passes.
// Ports opened with a read timeout return (0, nil) when idle.
func (c *lineConn) readLine() (string, error) {
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = append(c.pending[:0], c.pending[i+1:]...)
			return strings.TrimSpace(line), nil
		}
		if time.Now().After(deadline) {
			return "", ErrNoResponse
		}
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		time.Sleep(time.Millisecond)
	}
}

// expectOK sends cmd and checks for an "OK" reply.
func (c *lineConn) expectOK(cmd string) error {
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("%w: %s: %q", ErrBadResponse, cmd, resp)
	}
	return nil
}
