package ustream

import (
	"errors"
	"io"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSeeker is an in-memory io.WriteSeeker for marshaling boxes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(w.pos) + offset
	case io.SeekEnd:
		pos = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(pos)
	return pos, nil
}

func marshalInit(t *testing.T, tracks ...*fmp4.InitTrack) []byte {
	t.Helper()

	init := fmp4.Init{Tracks: tracks}

	var w writeSeeker
	require.NoError(t, init.Marshal(&w))
	return w.buf
}

func TestProbeInit(t *testing.T) {
	tests := []struct {
		name  string
		track *fmp4.InitTrack
		codec string
	}{
		{
			name: "opus",
			track: &fmp4.InitTrack{
				ID:        1,
				TimeScale: 48000,
				Codec:     &mp4.CodecOpus{ChannelCount: 2},
			},
			codec: "opus",
		},
		{
			name: "ac3",
			track: &fmp4.InitTrack{
				ID:        2,
				TimeScale: 48000,
				Codec: &mp4.CodecAC3{
					SampleRate:   48000,
					ChannelCount: 6,
					Fscod:        0x0,
					Bsid:         0x8,
					Bsmod:        0x0,
					Acmod:        0x7,
					LfeOn:        true,
					BitRateCode:  0xf,
				},
			},
			codec: "ac3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracks, err := ProbeInit(marshalInit(t, tt.track))
			require.NoError(t, err)
			assert.Equal(t, []TrackInfo{{
				ID:        tt.track.ID,
				TimeScale: tt.track.TimeScale,
				Codec:     tt.codec,
			}}, tracks)
		})
	}
}

func TestProbeInitInvalid(t *testing.T) {
	_, err := ProbeInit([]byte("not an init segment"))
	assert.Error(t, err)
}
