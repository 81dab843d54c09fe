package ustream

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func frame(t *testing.T, cmd string, args ...map[string]any) []byte {
	t.Helper()
	return mustJSON(t, map[string]any{"cmd": cmd, "args": args})
}

func cdnFrame(t *testing.T, protocol, host, path string) []byte {
	return frame(t, "moduleInfo", map[string]any{
		"cdnConfig": map[string]any{
			"protocol": protocol,
			"data": []any{
				map[string]any{"data": []any{
					map[string]any{"sites": []any{
						map[string]any{"host": host, "path": path},
					}},
				}},
			},
		},
	})
}

func videoEntry(height, bitrate int) map[string]any {
	return map[string]any{
		"contentType":         ContentTypeVideo,
		"sourceStreamVersion": 1,
		"initUrl":             "init-%-%.m4s",
		"segmentUrl":          "seg-%-%.m4s",
		"bitrate":             bitrate,
		"height":              height,
	}
}

func audioEntry(bitrate int) map[string]any {
	return map[string]any{
		"contentType":         ContentTypeAudio,
		"sourceStreamVersion": 1,
		"initUrl":             "ainit-%-%.m4s",
		"segmentUrl":          "aseg-%-%.m4s",
		"bitrate":             bitrate,
		"language":            "en",
	}
}

type streamPayload struct {
	available *bool
	chunkID   int64
	chunkTime int
	path      string
	hashes    map[int64]string
	streams   []map[string]any
}

func (p streamPayload) segmented() map[string]any {
	hashes := map[string]string{}
	for k, v := range p.hashes {
		hashes[strconv.FormatInt(k, 10)] = v
	}

	return map[string]any{
		"chunkId":   p.chunkID,
		"chunkTime": p.chunkTime,
		"contentAccess": map[string]any{
			"accessList": []any{
				map[string]any{"data": map[string]any{"path": p.path}},
			},
		},
		"hashes":  hashes,
		"streams": p.streams,
	}
}

func streamFrame(t *testing.T, p streamPayload) []byte {
	stream := map[string]any{
		"streamFormats": map[string]any{
			segmentedFormat: p.segmented(),
		},
	}
	if p.available != nil {
		stream["contentAvailable"] = *p.available
	}

	return frame(t, "moduleInfo", map[string]any{"stream": stream})
}

func boolPtr(b bool) *bool { return &b }

// fakeConn is an in-memory control channel.
type fakeConn struct {
	url    string
	sent   chan []byte
	frames chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:    url,
		sent:   make(chan []byte, 16),
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	select {
	case c.sent <- frame:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) push(t *testing.T, frame []byte) {
	t.Helper()

	select {
	case c.frames <- frame:
	case <-time.After(testTimeout):
		t.Fatal("frame not consumed")
	}
}

func (c *fakeConn) connect(t *testing.T) map[string]any {
	t.Helper()

	select {
	case data := <-c.sent:
		var msg struct {
			Cmd  string           `json:"cmd"`
			Args []map[string]any `json:"args"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, "connect", msg.Cmd)
		require.Len(t, msg.Args, 1)
		return msg.Args[0]
	case <-time.After(testTimeout):
		t.Fatal("connect not sent")
		return nil
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()

	select {
	case <-c.closed:
	case <-time.After(testTimeout):
		t.Fatal("connection not closed")
	}
}

type fakeDialer struct {
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn := newFakeConn(url)
	select {
	case d.conns <- conn:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(testTimeout):
		t.Fatal("no dial")
		return nil
	}
}

type collectorCounts struct {
	reconnects []string
	published  int
	fetched    int
	failed     int
	skipped    int
	started    int
	closed     int
}

// countingCollector records events for assertions.
type countingCollector struct {
	mu     sync.Mutex
	counts collectorCounts
}

func (c *countingCollector) SessionStarted() {
	c.mu.Lock()
	c.counts.started++
	c.mu.Unlock()
}

func (c *countingCollector) SessionClosed() {
	c.mu.Lock()
	c.counts.closed++
	c.mu.Unlock()
}

func (c *countingCollector) Reconnected(reason string) {
	c.mu.Lock()
	c.counts.reconnects = append(c.counts.reconnects, reason)
	c.mu.Unlock()
}

func (c *countingCollector) SegmentsPublished(n int) {
	c.mu.Lock()
	c.counts.published += n
	c.mu.Unlock()
}

func (c *countingCollector) SegmentFetched(string, int64) {
	c.mu.Lock()
	c.counts.fetched++
	c.mu.Unlock()
}

func (c *countingCollector) SegmentFailed(string) {
	c.mu.Lock()
	c.counts.failed++
	c.mu.Unlock()
}

func (c *countingCollector) SegmentSkipped() {
	c.mu.Lock()
	c.counts.skipped++
	c.mu.Unlock()
}

func (c *countingCollector) snapshot() collectorCounts {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := c.counts
	counts.reconnects = append([]string(nil), c.counts.reconnects...)
	return counts
}
