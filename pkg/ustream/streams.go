package ustream

import (
	"context"
	"errors"
	"io"
	"time"
)

// Stream is one playable rendition of a session.
type Stream interface {
	Name() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

type VideoStream struct {
	client *Client
	video  VideoFormat
	config TrackConfig
}

func (s *VideoStream) Name() string { return s.video.Name() }

func (s *VideoStream) ContentType() string { return ContentTypeVideo }

func (s *VideoStream) Open() (io.ReadCloser, error) {
	track := NewTrackReader(s.client, s.video, s.config)
	if err := track.Open(); err != nil {
		return nil, err
	}
	return track, nil
}

// MuxedStream pairs a video and an audio rendition of the same session.
type MuxedStream struct {
	client *Client
	video  VideoFormat
	audio  AudioFormat
	config TrackConfig
	muxer  MuxerConfig
}

func (s *MuxedStream) Name() string { return s.audio.MuxedName(s.video) }

func (s *MuxedStream) ContentType() string {
	return MuxContentType(s.muxer.withDefaultValues().Format)
}

func (s *MuxedStream) Open() (io.ReadCloser, error) {
	video := NewTrackReader(s.client, s.video, s.config)
	audio := NewTrackReader(s.client, s.audio, s.config)

	if err := video.Open(); err != nil {
		return nil, err
	}

	if err := audio.Open(); err != nil {
		video.Close()
		return nil, err
	}

	muxer := NewMuxer(s.muxer, video, audio)
	if err := muxer.Start(); err != nil {
		muxer.Close()
		return nil, err
	}

	return muxer, nil
}

// MuxContentType maps an ffmpeg output format to its MIME type.
func MuxContentType(format string) string {
	switch format {
	case "matroska":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mpegts":
		return "video/mp2t"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// NewStreams builds the streams of a ready client. Without audio renditions
// every video rendition is a stream of its own, otherwise every video and
// audio pair is muxed.
func NewStreams(client *Client, track TrackConfig, muxer MuxerConfig) []Stream {
	video := client.VideoFormats()
	audio := client.AudioFormats()

	streams := []Stream{}
	for _, v := range video {
		if len(audio) == 0 {
			streams = append(streams, &VideoStream{
				client: client,
				video:  v,
				config: track,
			})
			continue
		}

		for _, a := range audio {
			streams = append(streams, &MuxedStream{
				client: client,
				video:  v,
				audio:  a,
				config: track,
				muxer:  muxer,
			})
		}
	}

	return streams
}

type Options struct {
	Password string
	Referrer string
	Cluster  string

	AppID      int
	AppVersion int

	ReadyTimeout  time.Duration
	OpenedTimeout time.Duration

	Track TrackConfig
	Muxer MuxerConfig

	Dialer    Dialer
	Collector Collector
}

func (o Options) withDefaultValues() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 15 * time.Second
	}
	return o
}

// Session is a ready control client together with its streams.
type Session struct {
	client  *Client
	streams []Stream
}

// Open resolves the URL, waits for the session to become ready and lists its
// streams. The session must be closed unless a stream was opened, the last
// closed stream closes the session too.
func Open(ctx context.Context, rawURL string, opts Options) (*Session, error) {
	opts = opts.withDefaultValues()

	mediaID, application, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	client := New(Config{
		MediaID:       mediaID,
		Application:   application,
		Referrer:      opts.Referrer,
		Password:      opts.Password,
		Cluster:       opts.Cluster,
		AppID:         opts.AppID,
		AppVersion:    opts.AppVersion,
		OpenedTimeout: opts.OpenedTimeout,
		Dialer:        opts.Dialer,
		Collector:     opts.Collector,
	})
	client.Start()

	readyCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()

	if err := client.WaitReady(readyCtx); err != nil {
		client.Close()
		return nil, err
	}

	streams := NewStreams(client, opts.Track, opts.Muxer)
	if len(streams) == 0 {
		client.Close()
		return nil, ErrNoStreams
	}

	return &Session{
		client:  client,
		streams: streams,
	}, nil
}

func (s *Session) Client() *Client {
	return s.client
}

func (s *Session) Streams() []Stream {
	return append([]Stream(nil), s.streams...)
}

func (s *Session) Names() []string {
	names := make([]string, 0, len(s.streams))
	for _, stream := range s.streams {
		names = append(names, stream.Name())
	}
	return names
}

func (s *Session) Stream(name string) (Stream, error) {
	for _, stream := range s.streams {
		if stream.Name() == name {
			return stream, nil
		}
	}
	return nil, ErrStreamNotFound
}

func (s *Session) Close() {
	s.client.Close()
}

// IsTimeout reports whether err is a readiness timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
