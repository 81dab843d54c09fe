package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-ustream/pkg/ustream"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type Ustream struct {
	Password string
	Referrer string
	Cluster  string

	AppID      int
	AppVersion int

	ReadyTimeout  time.Duration
	OpenedTimeout time.Duration

	SegmentAttempts int
	SegmentTimeout  time.Duration
	SegmentThreads  int
	RingBufferSize  int

	FFmpegBinary string
	MuxFormat    string

	// source name to channel or video url
	Sources map[string]string
}

func (Ustream) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("ustream.password", "", "password for protected channels")
	if err := viper.BindPFlag("ustream.password", cmd.PersistentFlags().Lookup("ustream.password")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ustream.referrer", "", "referrer sent with the connect message")
	if err := viper.BindPFlag("ustream.referrer", cmd.PersistentFlags().Lookup("ustream.referrer")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ustream.cluster", "live", "initial cluster of the control channel")
	if err := viper.BindPFlag("ustream.cluster", cmd.PersistentFlags().Lookup("ustream.cluster")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ustream.app-id", 3, "application id sent with the connect message")
	if err := viper.BindPFlag("ustream.app-id", cmd.PersistentFlags().Lookup("ustream.app-id")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ustream.app-version", 2, "application version sent with the connect message")
	if err := viper.BindPFlag("ustream.app-version", cmd.PersistentFlags().Lookup("ustream.app-version")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("ustream.ready-timeout", 15*time.Second, "how long to wait for the session to become ready")
	if err := viper.BindPFlag("ustream.ready-timeout", cmd.PersistentFlags().Lookup("ustream.ready-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("ustream.opened-timeout", 6*time.Second, "how long the control channel waits for a reader")
	if err := viper.BindPFlag("ustream.opened-timeout", cmd.PersistentFlags().Lookup("ustream.opened-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ustream.segment-attempts", 3, "download attempts per segment")
	if err := viper.BindPFlag("ustream.segment-attempts", cmd.PersistentFlags().Lookup("ustream.segment-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("ustream.segment-timeout", 10*time.Second, "timeout of a single segment request")
	if err := viper.BindPFlag("ustream.segment-timeout", cmd.PersistentFlags().Lookup("ustream.segment-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ustream.segment-threads", 1, "parallel segment downloads per track")
	if err := viper.BindPFlag("ustream.segment-threads", cmd.PersistentFlags().Lookup("ustream.segment-threads")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("ustream.ringbuffer-size", ustream.DefaultBufferSize, "per track buffer size in bytes")
	if err := viper.BindPFlag("ustream.ringbuffer-size", cmd.PersistentFlags().Lookup("ustream.ringbuffer-size")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ustream.ffmpeg-binary", ustream.DefaultFFmpegBinary, "ffmpeg binary used to mux video and audio")
	if err := viper.BindPFlag("ustream.ffmpeg-binary", cmd.PersistentFlags().Lookup("ustream.ffmpeg-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ustream.mux-format", ustream.DefaultMuxFormat, "ffmpeg output format of muxed streams")
	if err := viper.BindPFlag("ustream.mux-format", cmd.PersistentFlags().Lookup("ustream.mux-format")); err != nil {
		return err
	}

	return nil
}

func (u *Ustream) Set() {
	u.Password = viper.GetString("ustream.password")
	u.Referrer = viper.GetString("ustream.referrer")
	u.Cluster = viper.GetString("ustream.cluster")

	u.AppID = viper.GetInt("ustream.app-id")
	u.AppVersion = viper.GetInt("ustream.app-version")

	u.ReadyTimeout = viper.GetDuration("ustream.ready-timeout")
	u.OpenedTimeout = viper.GetDuration("ustream.opened-timeout")

	u.SegmentAttempts = viper.GetInt("ustream.segment-attempts")
	u.SegmentTimeout = viper.GetDuration("ustream.segment-timeout")
	u.SegmentThreads = viper.GetInt("ustream.segment-threads")
	u.RingBufferSize = viper.GetInt("ustream.ringbuffer-size")

	u.FFmpegBinary = viper.GetString("ustream.ffmpeg-binary")
	u.MuxFormat = viper.GetString("ustream.mux-format")

	u.Sources = viper.GetStringMapString("ustream.sources")
}

// Options converts the configuration to session options.
func (u *Ustream) Options(collector ustream.Collector) ustream.Options {
	return ustream.Options{
		Password: u.Password,
		Referrer: u.Referrer,
		Cluster:  u.Cluster,

		AppID:      u.AppID,
		AppVersion: u.AppVersion,

		ReadyTimeout:  u.ReadyTimeout,
		OpenedTimeout: u.OpenedTimeout,

		Track: ustream.TrackConfig{
			Threads:    u.SegmentThreads,
			BufferSize: u.RingBufferSize,
			Fetcher: ustream.NewFetcher(ustream.FetcherConfig{
				Attempts: u.SegmentAttempts,
				Timeout:  u.SegmentTimeout,
			}),
		},
		Muxer: ustream.MuxerConfig{
			FFmpegBinary: u.FFmpegBinary,
			Format:       u.MuxFormat,
		},

		Collector: collector,
	}
}
