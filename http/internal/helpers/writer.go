package helpers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// CommitWriter wraps a ResponseWriter to intercept the moment the handler
// commits its status. The commit callback runs once, before any header is
// written to the client.
type CommitWriter struct {
	w         http.ResponseWriter
	commit    func(statusCode int)
	committed bool
}

// NewCommitWriter wraps w. commit receives the status the handler chose.
func NewCommitWriter(w http.ResponseWriter, commit func(statusCode int)) *CommitWriter {
	return &CommitWriter{w: w, commit: commit}
}

func (c *CommitWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CommitWriter) Write(b []byte) (int, error) {
	// If the handler calls Write without WriteHeader, it implies 200 OK.
	if !c.committed {
		c.WriteHeader(http.StatusOK)
	}
	return c.w.Write(b)
}

func (c *CommitWriter) WriteHeader(statusCode int) {
	if c.committed {
		return
	}
	c.committed = true
	c.commit(statusCode)
	c.w.WriteHeader(statusCode)
}

// Committed reports whether a status has been chosen.
func (c *CommitWriter) Committed() bool {
	return c.committed
}

// Finish commits a handler that returned without writing anything.
func (c *CommitWriter) Finish() {
	if !c.committed {
		c.WriteHeader(http.StatusOK)
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (c *CommitWriter) Unwrap() http.ResponseWriter {
	return c.w
}

// Flush implements http.Flusher to support streaming responses.
func (c *CommitWriter) Flush() {
	if !c.committed {
		c.WriteHeader(http.StatusOK)
	}
	if flusher, ok := c.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (c *CommitWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := c.w.(http.Hijacker); ok {
		if !c.committed {
			c.committed = true
			c.commit(http.StatusSwitchingProtocols)
		}
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (c *CommitWriter) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := c.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
