package ustream

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cdnServer serves init and media segments, slower for lower numbers so
// parallel fetches complete out of order.
type cdnServer struct {
	*httptest.Server

	mu       sync.Mutex
	missing  map[string]bool
	requests []string
}

func newCDNServer(t *testing.T) *cdnServer {
	s := &cdnServer{missing: map[string]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *cdnServer) serve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	missing := s.missing[name]
	s.mu.Unlock()

	if missing {
		http.NotFound(w, r)
		return
	}

	if parts := strings.Split(name, "-"); len(parts) == 3 && parts[0] == "seg" {
		num, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		time.Sleep(time.Duration(110-num) * 2 * time.Millisecond)
		_, _ = fmt.Fprintf(w, "[SEG-%d]", num)
		return
	}

	if strings.HasPrefix(name, "init-") {
		_, _ = w.Write([]byte("[INIT]"))
		return
	}

	http.NotFound(w, r)
}

func readyClient(t *testing.T, cdn *cdnServer, collector Collector) *Client {
	t.Helper()

	dialer := newFakeDialer()
	client := newTestClient(t, Config{Dialer: dialer, Collector: collector})

	conn := dialer.next(t)
	conn.connect(t)
	conn.push(t, cdnFrame(t, "http", strings.TrimPrefix(cdn.URL, "http://"), "/live/"))
	conn.push(t, streamFrame(t, streamPayload{
		chunkID:   100,
		chunkTime: 1,
		path:      "media",
		hashes:    map[int64]string{100: "h"},
		streams:   []map[string]any{videoEntry(720, 2_500_000)},
	}))
	require.NoError(t, waitReady(t, client))
	return client
}

func readString(t *testing.T, r io.Reader, n int) string {
	t.Helper()

	p := make([]byte, n)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(r, p)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("read timed out")
	}
	return string(p)
}

func TestTrackReaderOrder(t *testing.T) {
	cdn := newCDNServer(t)
	client := readyClient(t, cdn, nil)

	var want strings.Builder
	want.WriteString("[INIT]")
	for num := 100; num < 110; num++ {
		fmt.Fprintf(&want, "[SEG-%d]", num)
	}

	reader := NewTrackReader(client, client.VideoFormats()[0], TrackConfig{
		Threads:    4,
		BufferSize: 16,
		Fetcher:    NewFetcher(FetcherConfig{Attempts: 1, Timeout: time.Second}),
	})
	require.NoError(t, reader.Open())

	got := readString(t, reader, want.Len())
	assert.Equal(t, want.String(), got)

	cdn.mu.Lock()
	assert.Contains(t, cdn.requests, "/live/media/init-100-h.m4s")
	assert.Contains(t, cdn.requests, "/live/media/seg-109-h.m4s")
	cdn.mu.Unlock()

	// init bytes are not a valid mp4, they are forwarded anyway
	assert.Empty(t, reader.Tracks())

	// last reader closes the session
	require.NoError(t, reader.Close())
	_, err := client.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(b.buf.String(), "\n")
}

func TestTrackReaderSkipsFailedSegments(t *testing.T) {
	cdn := newCDNServer(t)
	cdn.missing["seg-103-h.m4s"] = true

	collector := &countingCollector{}
	client := readyClient(t, cdn, collector)

	var want strings.Builder
	want.WriteString("[INIT]")
	for num := 100; num < 110; num++ {
		if num != 103 {
			fmt.Fprintf(&want, "[SEG-%d]", num)
		}
	}

	logs := &lockedBuffer{}
	global := log.Logger
	log.Logger = zerolog.New(logs)
	t.Cleanup(func() { log.Logger = global })

	reader := NewTrackReader(client, client.VideoFormats()[0], TrackConfig{
		Threads: 2,
		Fetcher: NewFetcher(FetcherConfig{Attempts: 1, Timeout: time.Second}),
	})
	require.NoError(t, reader.Open())
	defer reader.Close()

	assert.Equal(t, want.String(), readString(t, reader, want.Len()))

	counts := collector.snapshot()
	assert.Equal(t, 1, counts.failed)
	assert.Equal(t, 10, counts.fetched)

	// exhausted fetches are errors
	skipped := 0
	for _, line := range logs.lines() {
		if strings.Contains(line, `"message":"skipping segment"`) {
			skipped++
			assert.Contains(t, line, `"level":"error"`)
			assert.Contains(t, line, `"num":103`)
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestTrackReaderShared(t *testing.T) {
	cdn := newCDNServer(t)
	client := readyClient(t, cdn, nil)

	format := client.VideoFormats()[0]
	first := NewTrackReader(client, format, TrackConfig{})
	second := NewTrackReader(client, format, TrackConfig{})

	require.NoError(t, first.Open())
	require.NoError(t, second.Open())

	assert.Equal(t, "[INIT][SEG-100]", readString(t, first, len("[INIT][SEG-100]")))
	assert.Equal(t, "[INIT][SEG-100]", readString(t, second, len("[INIT][SEG-100]")))

	require.NoError(t, first.Close())

	// session still alive for the second reader
	_, err := client.Subscribe()
	require.NoError(t, err)

	require.NoError(t, second.Close())
	_, err = client.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTrackReaderNotReady(t *testing.T) {
	dialer := newFakeDialer()
	client := newTestClient(t, Config{Dialer: dialer})

	reader := NewTrackReader(client, VideoFormat{Height: 720}, TrackConfig{})
	assert.ErrorIs(t, reader.Open(), ErrNotReady)
	assert.NoError(t, reader.Close())
}

func TestTrackReaderEndOfTrack(t *testing.T) {
	cdn := newCDNServer(t)
	client := readyClient(t, cdn, nil)

	reader := NewTrackReader(client, client.VideoFormats()[0], TrackConfig{})
	require.NoError(t, reader.Open())
	defer reader.Close()

	assert.Equal(t, "[INIT]", readString(t, reader, len("[INIT]")))

	// closing the session ends the subscription, buffered data drains then EOF
	client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(reader)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("no end of track")
	}
}
