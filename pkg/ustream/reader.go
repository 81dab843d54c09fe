package ustream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const writeChunkSize = 8 * 1024

type TrackConfig struct {
	Threads    int
	BufferSize int
	Fetcher    *Fetcher
}

func (c TrackConfig) withDefaultValues() TrackConfig {
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Fetcher == nil {
		c.Fetcher = NewFetcher(FetcherConfig{})
	}
	return c
}

type fetchResult struct {
	data []byte
	err  error
}

type fetchJob struct {
	init bool
	num  int64
	done chan fetchResult
}

// TrackReader downloads the segments of one rendition and exposes them as a
// single byte stream, init segment first.
type TrackReader struct {
	logger zerolog.Logger
	client *Client
	format Format
	config TrackConfig

	buffer *RingBuffer
	sem    *semaphore.Weighted
	jobs   chan fetchJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	opened    bool
	closeOnce sync.Once
	tracks    []TrackInfo
}

func NewTrackReader(client *Client, format Format, config TrackConfig) *TrackReader {
	config = config.withDefaultValues()

	ctx, cancel := context.WithCancel(context.Background())

	return &TrackReader{
		logger: log.With().
			Str("module", "ustream").
			Str("submodule", "track").
			Str("content-type", format.ContentType()).
			Int("bitrate", format.Bitrate()).
			Logger(),
		client: client,
		format: format,
		config: config,

		buffer: NewRingBuffer(config.BufferSize),
		sem:    semaphore.NewWeighted(int64(config.Threads)),
		jobs:   make(chan fetchJob, config.Threads),

		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *TrackReader) ContentType() string {
	return r.format.ContentType()
}

// Open subscribes to the session and starts the scheduler and writer.
func (r *TrackReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opened {
		return nil
	}

	if r.ctx.Err() != nil {
		return ErrClosed
	}

	sub, err := r.client.Subscribe()
	if err != nil {
		return err
	}

	r.opened = true
	r.client.acquire()
	r.client.SignalOpened()

	r.wg.Add(2)
	go r.schedule(sub)
	go r.write()

	r.logger.Debug().Msg("track opened")
	return nil
}

func (r *TrackReader) Read(p []byte) (int, error) {
	return r.buffer.Read(p)
}

// Close stops the workers and releases the session, the session closes with
// its last reader.
func (r *TrackReader) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.buffer.Close()
		r.wg.Wait()

		r.mu.Lock()
		opened := r.opened
		r.mu.Unlock()

		if opened {
			r.client.release()
		}

		r.logger.Debug().Msg("track closed")
	})
	return nil
}

// Tracks returns what the init segment probe found, if it already ran.
func (r *TrackReader) Tracks() []TrackInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackInfo(nil), r.tracks...)
}

func (r *TrackReader) schedule(sub *Subscription) {
	defer r.wg.Done()
	defer close(r.jobs)
	defer sub.Close()

	hasInit := false
	for {
		seg, err := sub.Next(r.ctx)
		if err != nil {
			r.logger.Debug().Err(err).Msg("end of track")
			return
		}

		if !hasInit {
			if !r.submit(seg, true) {
				return
			}
			hasInit = true
		}

		if !r.submit(seg, false) {
			return
		}
	}
}

// submit starts a fetch once a worker slot is free and queues its result for
// the writer, in submission order.
func (r *TrackReader) submit(seg Segment, init bool) bool {
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		return false
	}

	job := fetchJob{
		init: init,
		num:  seg.Num,
		done: make(chan fetchResult, 1),
	}

	select {
	case r.jobs <- job:
	case <-r.ctx.Done():
		r.sem.Release(1)
		return false
	}

	template := r.format.SegmentTemplate()
	if init {
		template = r.format.InitTemplate()
	}
	rawURL := seg.URL(r.client.CDN(), template)

	go func() {
		defer r.sem.Release(1)

		data, err := r.config.Fetcher.Fetch(r.ctx, seg, rawURL)
		job.done <- fetchResult{data: data, err: err}
	}()

	return true
}

func (r *TrackReader) write() {
	defer r.wg.Done()
	defer r.buffer.CloseWrite(nil)

	collector := r.client.config.Collector
	contentType := r.format.ContentType()

	for job := range r.jobs {
		var res fetchResult
		select {
		case res = <-job.done:
		case <-r.ctx.Done():
			return
		}

		if res.err != nil {
			if r.ctx.Err() != nil {
				return
			}

			r.logger.Error().Err(res.err).Int64("num", job.num).Bool("init", job.init).Msg("skipping segment")
			collector.SegmentFailed(contentType)
			continue
		}

		collector.SegmentFetched(contentType, int64(len(res.data)))

		if job.init {
			r.probe(res.data)
		}

		for off := 0; off < len(res.data); off += writeChunkSize {
			end := min(off+writeChunkSize, len(res.data))
			if _, err := r.buffer.Write(res.data[off:end]); err != nil {
				return
			}
		}
	}
}

func (r *TrackReader) probe(data []byte) {
	tracks, err := ProbeInit(data)
	if err != nil {
		r.logger.Debug().Err(err).Msg("unable to probe init segment")
		return
	}

	r.mu.Lock()
	r.tracks = tracks
	r.mu.Unlock()

	for _, track := range tracks {
		r.logger.Info().
			Int("track", track.ID).
			Uint32("timescale", track.TimeScale).
			Str("codec", track.Codec).
			Msg("init segment")
	}
}
