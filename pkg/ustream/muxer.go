package ustream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-ustream/internal/utils"
)

const (
	DefaultFFmpegBinary = "ffmpeg"
	DefaultMuxFormat    = "matroska"
)

type MuxerConfig struct {
	FFmpegBinary string
	Format       string
}

func (c MuxerConfig) withDefaultValues() MuxerConfig {
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = DefaultFFmpegBinary
	}
	if c.Format == "" {
		c.Format = DefaultMuxFormat
	}
	return c
}

// MuxArgs returns the ffmpeg arguments copying video from pipe:3 and audio
// from pipe:4 into a single container on stdout.
func MuxArgs(format string) []string {
	return []string{
		"-nostats",
		"-hide_banner",
		"-loglevel", "warning",
		"-i", "pipe:3",
		"-i", "pipe:4",
		"-map", "0:v",
		"-map", "1:a",
		"-c", "copy",
		"-f", format,
		"pipe:1",
	}
}

// Muxer combines a video and an audio track with an ffmpeg child process.
type Muxer struct {
	logger zerolog.Logger
	config MuxerConfig

	video io.ReadCloser
	audio io.ReadCloser

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *os.File
	stderr *utils.LogWriterCtx
	pipes  []*os.File
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewMuxer(config MuxerConfig, video, audio io.ReadCloser) *Muxer {
	return &Muxer{
		logger: log.With().Str("module", "ustream").Str("submodule", "muxer").Logger(),
		config: config.withDefaultValues(),
		video:  video,
		audio:  audio,
	}
}

func (m *Muxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return errors.New("has already started")
	}

	videoRead, videoWrite, err := os.Pipe()
	if err != nil {
		return err
	}

	audioRead, audioWrite, err := os.Pipe()
	if err != nil {
		videoRead.Close()
		videoWrite.Close()
		return err
	}

	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		closeFiles(videoRead, videoWrite, audioRead, audioWrite)
		return err
	}

	cmd := exec.Command(m.config.FFmpegBinary, MuxArgs(m.config.Format)...)
	cmd.ExtraFiles = []*os.File{videoRead, audioRead}
	// our own pipe, Wait must not close it under a pending Read
	cmd.Stdout = stdoutWrite
	stderr := utils.LogWriter(m.logger)
	cmd.Stderr = stderr
	cmd.SysProcAttr = configureAsProcessGroup()

	if err := cmd.Start(); err != nil {
		closeFiles(videoRead, videoWrite, audioRead, audioWrite, stdoutRead, stdoutWrite)
		return fmt.Errorf("ffmpeg could not be started: %w", err)
	}

	// child ends belong to the child now
	closeFiles(videoRead, audioRead, stdoutWrite)

	m.cmd = cmd
	m.stdout = stdoutRead
	m.stderr = stderr
	m.pipes = []*os.File{videoWrite, audioWrite}

	m.wg.Add(2)
	go m.feed("video", videoWrite, m.video)
	go m.feed("audio", audioWrite, m.audio)

	m.logger.Info().Int("pid", cmd.Process.Pid).Msg("muxer started")
	return nil
}

func (m *Muxer) feed(name string, dst *os.File, src io.Reader) {
	defer m.wg.Done()
	defer dst.Close()

	n, err := io.Copy(dst, src)
	m.logger.Debug().Err(err).Str("track", name).Int64("bytes", n).Msg("track finished")
}

func (m *Muxer) Read(p []byte) (int, error) {
	m.mu.Lock()
	stdout := m.stdout
	m.mu.Unlock()

	if stdout == nil {
		return 0, errors.New("muxer not started")
	}

	n, err := stdout.Read(p)
	if errors.Is(err, os.ErrClosed) {
		err = io.ErrClosedPipe
	}
	return n, err
}

// Close kills ffmpeg and closes both tracks.
func (m *Muxer) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cmd, stdout, stderr := m.cmd, m.stdout, m.stderr
		m.mu.Unlock()

		_ = m.video.Close()
		_ = m.audio.Close()

		if cmd == nil {
			return
		}

		killProcessGroup(m.logger, cmd)
		closeFiles(m.pipes...)

		m.wg.Wait()
		err := cmd.Wait()
		stderr.Flush()

		// wakes a pending Read
		_ = stdout.Close()
		m.logger.Debug().Err(err).Msg("muxer finished")
	})
	return nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
