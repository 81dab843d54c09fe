package ustream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type action int

const (
	actionContinue action = iota
	// close the channel and dial again right away
	actionReconnect
	// close the channel for good
	actionStop
)

// Client holds one control session for a single media id. It collects the CDN
// base, the available formats and the published segments, and fans segments
// out to subscribed track readers.
type Client struct {
	logger zerolog.Logger
	config Config

	ctx    context.Context
	cancel context.CancelFunc

	// control channel lifetime, stopped independently of the session
	channelCtx    context.Context
	channelCancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	cluster  string
	referrer string
	refs     int

	stateMu      sync.RWMutex
	cdn          *url.URL
	videoFormats []VideoFormat
	audioFormats []AudioFormat
	initialNum   *int64
	streamErr    *StreamError

	segmentsMu      sync.Mutex
	initialSegments []Segment
	subscribers     []*Subscription

	ready      chan struct{}
	readyOnce  sync.Once
	opened     chan struct{}
	openedOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func New(config Config) *Client {
	config = config.withDefaultValues()

	ctx, cancel := context.WithCancel(context.Background())
	channelCtx, channelCancel := context.WithCancel(ctx)

	return &Client{
		logger: log.With().
			Str("module", "ustream").
			Str("submodule", "client").
			Str("media", config.MediaID).
			Str("application", config.Application).
			Logger(),
		config: config,

		ctx:           ctx,
		cancel:        cancel,
		channelCtx:    channelCtx,
		channelCancel: channelCancel,

		cluster:  config.Cluster,
		referrer: config.Referrer,

		ready:  make(chan struct{}),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the control channel in the background and returns immediately.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.ctx.Err() != nil {
		return
	}

	c.started = true
	c.config.Collector.SessionStarted()

	go c.run()
}

// Close stops the control channel, wakes every waiter and unregisters all
// subscribers. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		started := c.started
		c.mu.Unlock()

		if started {
			<-c.done
			c.config.Collector.SessionClosed()
		}

		c.segmentsMu.Lock()
		subscribers := c.subscribers
		c.subscribers = nil
		c.segmentsMu.Unlock()

		for _, sub := range subscribers {
			sub.stop()
		}

		c.logger.Debug().Msg("session closed")
	})
}

// WaitReady blocks until the CDN base and the initial segment number are both
// known, or a terminal error was reported.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		if err := c.StreamError(); err != nil {
			return err
		}
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignalOpened keeps the control channel alive past the opened timeout.
func (c *Client) SignalOpened() {
	c.openedOnce.Do(func() {
		close(c.opened)
	})
}

func (c *Client) CDN() *url.URL {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.cdn == nil {
		return nil
	}

	cdn := *c.cdn
	return &cdn
}

func (c *Client) VideoFormats() []VideoFormat {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]VideoFormat(nil), c.videoFormats...)
}

func (c *Client) AudioFormats() []AudioFormat {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]AudioFormat(nil), c.audioFormats...)
}

// FormatsKnown reports whether the format lists were received.
func (c *Client) FormatsKnown() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.videoFormats != nil
}

func (c *Client) InitialSegmentNum() (int64, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.initialNum == nil {
		return 0, false
	}
	return *c.initialNum, true
}

// StreamError returns the terminal error of the session, if any.
func (c *Client) StreamError() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.streamErr == nil {
		return nil
	}
	return c.streamErr
}

func (c *Client) Cluster() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cluster
}

func (c *Client) Referrer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.referrer
}

// Subscribe registers a new segment consumer. It receives a snapshot of the
// segments collected before the first subscriber and every later publication.
func (c *Client) Subscribe() (*Subscription, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}

	num, ok := c.InitialSegmentNum()
	if !ok || !c.isReady() {
		return nil, ErrNotReady
	}

	c.segmentsMu.Lock()
	defer c.segmentsMu.Unlock()

	sub := newSubscription(c, append([]Segment(nil), c.initialSegments...), num)
	c.subscribers = append(c.subscribers, sub)
	return sub, nil
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.segmentsMu.Lock()
	defer c.segmentsMu.Unlock()

	for i, s := range c.subscribers {
		if s == sub {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// acquire and release count the track readers sharing this session, the
// session closes when the last one is released.
func (c *Client) acquire() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

func (c *Client) release() {
	c.mu.Lock()
	c.refs--
	last := c.refs <= 0
	c.mu.Unlock()

	if last {
		c.Close()
	}
}

func (c *Client) isReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Client) signalReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

//
// control channel
//

func (c *Client) url() string {
	c.mu.Lock()
	cluster := c.cluster
	c.mu.Unlock()

	return fmt.Sprintf(
		"wss://r%x-1-%s-%s-ws-%s.ums.services.video.ibm.com/1/ustream",
		rand.IntN(1<<24), c.config.MediaID, c.config.Application, cluster,
	)
}

func (c *Client) connectFrame() ([]byte, error) {
	c.mu.Lock()
	referrer := c.referrer
	c.mu.Unlock()

	args := connectArgs{
		Type:        "viewer",
		AppID:       c.config.AppID,
		AppVersion:  c.config.AppVersion,
		RSID:        fmt.Sprintf("%x:%x", rand.Int64N(1e10+1), rand.Int64N(1e10+1)),
		RPIN:        fmt.Sprintf("_rpin.%d", rand.Int64N(1e15+1)),
		ClusterHost: clusterHost,
		Media:       c.config.MediaID,
		Application: c.config.Application,
	}

	if referrer != "" {
		args.Referrer = &referrer
	}

	if c.config.Password != "" {
		password := c.config.Password
		args.Password = &password
	}

	return encodeConnect(args)
}

func (c *Client) run() {
	defer close(c.done)

	for {
		next, err := c.session(c.channelCtx)
		if c.channelCtx.Err() != nil {
			c.logger.Debug().Msg("control channel stopped")
			return
		}

		switch next {
		case actionReconnect:
			c.logger.Info().Str("cluster", c.Cluster()).Msg("reconnecting")
			continue
		case actionStop:
			if err != nil {
				c.logger.Warn().Err(err).Msg("control channel closed")
			}
			return
		}

		// dial failed, retry after a delay
		c.logger.Warn().Err(err).Dur("delay", c.config.ReconnectDelay).Msg("unable to connect, retrying")

		timer := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-timer.C:
		case <-c.channelCtx.Done():
			timer.Stop()
			return
		}
	}
}

// session runs one websocket connection. actionContinue as a result means the
// connection could not be established.
func (c *Client) session(ctx context.Context) (action, error) {
	rawURL := c.url()
	c.logger.Debug().Str("url", rawURL).Msg("connecting")

	conn, err := c.config.Dialer.Dial(ctx, rawURL)
	if err != nil {
		return actionContinue, err
	}
	defer conn.Close()

	frame, err := c.connectFrame()
	if err != nil {
		return actionStop, err
	}

	if err := conn.Send(ctx, frame); err != nil {
		return actionContinue, fmt.Errorf("send connect: %w", err)
	}

	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			return actionStop, err
		}

		if next := c.handleFrame(frame); next != actionContinue {
			return next, nil
		}
	}
}

func (c *Client) handleFrame(frame []byte) action {
	commands, err := parseCommands(frame)
	if err != nil {
		c.logger.Warn().Err(err).Msg("ignoring frame")
		return actionContinue
	}

	for _, cmd := range commands {
		if next := c.handle(cmd); next != actionContinue {
			return next
		}
	}

	return actionContinue
}

func (c *Client) handle(cmd command) action {
	switch cmd.Sub {
	case subWarningCode:
		// the warning handler gets the whole argument object
		var w warningData
		w.Code = cmd.Arg["code"]
		w.Message = cmd.Arg["message"]
		code, message := w.text()
		c.logger.Warn().Str("code", code).Str("message", message).Msg("received warning")
		return actionContinue

	case subRejectNonexistent:
		return c.fail(ReasonNonexistent)

	case subRejectGeoLock:
		return c.fail(ReasonGeoLock)

	case subRejectCluster:
		var data clusterData
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.Name == "" {
			c.logger.Warn().Err(err).Msg("invalid cluster redirect")
			return actionContinue
		}

		c.mu.Lock()
		c.cluster = data.Name
		c.mu.Unlock()

		c.logger.Info().Str("cluster", data.Name).Msg("switching cluster")
		c.config.Collector.Reconnected("cluster")
		return actionReconnect

	case subRejectReferrerLock:
		var data referrerLockData
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.RedirectURL == "" {
			c.logger.Warn().Err(err).Msg("invalid referrer lock")
			return actionContinue
		}

		c.mu.Lock()
		c.referrer = data.RedirectURL
		c.mu.Unlock()

		c.logger.Info().Str("referrer", data.RedirectURL).Msg("updating referrer")
		c.config.Collector.Reconnected("referrer")
		return actionReconnect

	case subModuleInfoCdnConfig:
		return c.handleCdnConfig(cmd.Data)

	case subModuleInfoStream:
		return c.handleStream(cmd.Data)
	}

	return actionContinue
}

func (c *Client) handleCdnConfig(raw json.RawMessage) action {
	cdn, err := parseCdnConfig(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("invalid cdn config")
		return actionContinue
	}

	c.stateMu.Lock()
	if c.cdn != nil {
		c.stateMu.Unlock()
		return actionContinue
	}
	c.cdn = cdn
	c.stateMu.Unlock()

	c.logger.Debug().Str("cdn", cdn.String()).Msg("cdn base")
	c.tryReady()
	return actionContinue
}

func (c *Client) handleStream(raw json.RawMessage) action {
	stream, err := parseStream(raw)
	if err != nil {
		return c.invalid(err)
	}

	if stream.ContentAvailable != nil && !*stream.ContentAvailable {
		return c.fail(ReasonOffline)
	}

	segmented, ok := stream.segmented()
	if !ok {
		return actionContinue
	}

	if !c.FormatsKnown() {
		video, audio, err := parseFormats(segmented)
		if err != nil {
			return c.invalid(err)
		}

		c.stateMu.Lock()
		c.videoFormats = video
		c.audioFormats = audio
		c.stateMu.Unlock()

		c.logger.Debug().Int("video", len(video)).Int("audio", len(audio)).Msg("received formats")
	}

	table, err := parseSegmentTable(segmented)
	if err != nil {
		return c.invalid(err)
	}

	if len(table.IDs) == 0 {
		return actionContinue
	}

	if err := table.check(); err != nil {
		c.logger.Warn().Err(err).Msg("dropping segment table")
		return actionContinue
	}

	c.stateMu.Lock()
	if c.initialNum == nil {
		num := table.ChunkID
		c.initialNum = &num
		c.logger.Debug().Int64("num", num).Msg("initial segment")
	}
	c.stateMu.Unlock()

	segments := table.expand(time.Now())
	c.publish(segments)
	c.config.Collector.SegmentsPublished(len(segments))

	c.tryReady()
	return actionContinue
}

// publish appends segments to the initial list while there is no subscriber,
// and to every subscriber queue afterwards.
func (c *Client) publish(segments []Segment) {
	c.segmentsMu.Lock()
	defer c.segmentsMu.Unlock()

	if len(c.subscribers) == 0 {
		c.initialSegments = appendSegments(c.initialSegments, segments)
		return
	}

	for _, sub := range c.subscribers {
		sub.push(segments)
	}
}

// appendSegments skips segments not newer than the current tail.
func appendSegments(queue []Segment, segments []Segment) []Segment {
	for _, seg := range segments {
		if n := len(queue); n > 0 && queue[n-1].Num >= seg.Num {
			continue
		}
		queue = append(queue, seg)
	}
	return queue
}

func (c *Client) tryReady() {
	if c.isReady() {
		return
	}

	c.stateMu.RLock()
	ok := c.cdn != nil && c.initialNum != nil
	c.stateMu.RUnlock()

	if !ok {
		return
	}

	c.logger.Info().Msg("session ready")
	c.signalReady()

	go c.waitOpened()
}

// waitOpened stops the control channel when no reader opens in time.
func (c *Client) waitOpened() {
	timer := time.NewTimer(c.config.OpenedTimeout)
	defer timer.Stop()

	select {
	case <-c.opened:
	case <-c.ctx.Done():
	case <-timer.C:
		c.logger.Info().Msg("no reader opened, closing control channel")
		c.channelCancel()
	}
}

// fail records a terminal error and wakes the readiness waiters.
func (c *Client) fail(reason string) action {
	c.stateMu.Lock()
	if c.streamErr == nil {
		c.streamErr = &StreamError{Reason: reason}
	}
	c.stateMu.Unlock()

	c.logger.Error().Str("reason", reason).Msg("stream error")
	c.signalReady()
	return actionStop
}

// invalid treats malformed stream data as terminal until the first segment
// number is known, and as a soft error afterwards.
func (c *Client) invalid(err error) action {
	if _, ok := c.InitialSegmentNum(); ok {
		c.logger.Warn().Err(err).Msg("invalid stream data")
		return actionContinue
	}
	return c.fail("Invalid stream data: " + err.Error())
}
