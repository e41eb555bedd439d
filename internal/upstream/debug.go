package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
)

// debugOut is where traffic dumps go; tests swap it.
var debugOut io.Writer = os.Stderr

func (c *Client) dumpUpstreamRequest(req *http.Request, payload []byte) {
	if c == nil || !c.Debug || req == nil {
		return
	}
	headerDump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		slog.Error("upstream.request.dump.failed", "error", err)
		return
	}
	headerDump = redactAuthorization(headerDump)
	c.writeDebugDumpBlock("UPSTREAM REQUEST", append(headerDump, payload...))
}

func (c *Client) dumpUpstreamResponse(resp *http.Response) {
	if c == nil || !c.Debug || resp == nil {
		return
	}

	headerDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump.failed", "error", err)
	} else {
		c.writeDebugDumpBlock("UPSTREAM RESPONSE", headerDump)
	}

	if resp.Body != nil {
		title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode)
		c.writeDebugDumpBoundary(title, true)
		contentType := strings.ToLower(resp.Header.Get("Content-Type"))
		resp.Body = &debugDumpReadCloser{
			src:    resp.Body,
			client: c,
			title:  title,
			sse:    strings.Contains(contentType, "text/event-stream"),
		}
	}
}

func redactAuthorization(dump []byte) []byte {
	lines := bytes.Split(dump, []byte("\r\n"))
	for i, line := range lines {
		if bytes.HasPrefix(bytes.ToLower(line), []byte("authorization:")) {
			lines[i] = []byte("Authorization: Bearer ***")
		}
	}
	return bytes.Join(lines, []byte("\r\n"))
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		c.writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			c.writeDebugDumpChunk([]byte("\n"))
		}
	}
	c.writeDebugDumpBoundary(title, false)
}

func (c *Client) writeDebugDumpBoundary(title string, begin bool) {
	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	c.writeDebugDumpChunk([]byte("===== " + strings.TrimSpace(title) + " " + kind + " =====\n"))
}

func (c *Client) writeDebugDumpChunk(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if _, err := debugOut.Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

// debugDumpReadCloser mirrors the body to the dump as it is consumed. SSE
// bodies are written one complete event at a time so interleaved streams
// stay readable.
type debugDumpReadCloser struct {
	src      io.ReadCloser
	client   *Client
	title    string
	sse      bool
	sseBuf   []byte
	closed   bool
	lastByte byte
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		chunk := p[:n]
		if d.sse {
			d.sseBuf = append(d.sseBuf, chunk...)
			d.flushCompletedEvents(false)
		} else {
			d.write(chunk)
		}
	}
	if errors.Is(err, io.EOF) {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	if d.closed {
		return
	}
	d.closed = true
	d.flushCompletedEvents(true)
	if d.lastByte != 0 && d.lastByte != '\n' {
		d.client.writeDebugDumpChunk([]byte("\n"))
	}
	d.client.writeDebugDumpBoundary(d.title, false)
}

func (d *debugDumpReadCloser) flushCompletedEvents(final bool) {
	for {
		idx := bytes.Index(d.sseBuf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		d.write(d.sseBuf[:idx+2])
		d.sseBuf = d.sseBuf[idx+2:]
	}
	if final && len(d.sseBuf) > 0 {
		d.write(d.sseBuf)
		d.sseBuf = nil
	}
}

func (d *debugDumpReadCloser) write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	d.lastByte = chunk[len(chunk)-1]
	d.client.writeDebugDumpChunk(chunk)
}
