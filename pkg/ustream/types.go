package ustream

import (
	"errors"
	"time"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrNotReady       = errors.New("session not ready")
	ErrNoStreams      = errors.New("no playable streams")
	ErrStreamNotFound = errors.New("stream not found")
	ErrInvalidURL     = errors.New("unsupported url")
)

// StreamError is a terminal session error reported by the platform.
type StreamError struct {
	Reason string
}

func (e *StreamError) Error() string {
	return e.Reason
}

const (
	ReasonNonexistent = "This channel does not exist"
	ReasonGeoLock     = "This content is not available in your area"
	ReasonOffline     = "This stream is currently offline"
)

type Config struct {
	MediaID     string
	Application string
	Referrer    string // optional
	Password    string // optional
	Cluster     string
	AppID       int
	AppVersion  int

	OpenedTimeout  time.Duration // how long the channel stays up after ready without a reader
	ReconnectDelay time.Duration // delay between failed dials

	Dialer    Dialer
	Collector Collector
}

func (c Config) withDefaultValues() Config {
	if c.Cluster == "" {
		c.Cluster = "live"
	}
	if c.AppID == 0 {
		c.AppID = 3
	}
	if c.AppVersion == 0 {
		c.AppVersion = 2
	}
	if c.OpenedTimeout == 0 {
		c.OpenedTimeout = 6 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{Origin: DefaultOrigin}
	}
	if c.Collector == nil {
		c.Collector = nopCollector{}
	}
	return c
}

// Collector receives session and segment events, used for metrics.
type Collector interface {
	SessionStarted()
	SessionClosed()
	Reconnected(reason string)
	SegmentsPublished(n int)
	SegmentFetched(contentType string, bytes int64)
	SegmentFailed(contentType string)
	SegmentSkipped()
}

type nopCollector struct{}

func (nopCollector) SessionStarted() {}
func (nopCollector) SessionClosed() {}
func (nopCollector) Reconnected(string) {}
func (nopCollector) SegmentsPublished(int) {}
func (nopCollector) SegmentFetched(string, int64) {}
func (nopCollector) SegmentFailed(string) {}
func (nopCollector) SegmentSkipped() {}
