package ustream

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// TrackInfo describes one track of an init segment.
type TrackInfo struct {
	ID        int
	TimeScale uint32
	Codec     string
}

// ProbeInit parses an fMP4 init segment and lists its tracks.
func ProbeInit(data []byte) ([]TrackInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("init segment: %w", err)
	}

	tracks := make([]TrackInfo, 0, len(init.Tracks))
	for _, track := range init.Tracks {
		tracks = append(tracks, TrackInfo{
			ID:        track.ID,
			TimeScale: track.TimeScale,
			Codec:     codecName(track.Codec),
		})
	}

	return tracks, nil
}

func codecName(codec mp4.Codec) string {
	switch codec.(type) {
	case *mp4.CodecH264:
		return "h264"
	case *mp4.CodecH265:
		return "h265"
	case *mp4.CodecAV1:
		return "av1"
	case *mp4.CodecVP9:
		return "vp9"
	case *mp4.CodecMPEG4Audio:
		return "aac"
	case *mp4.CodecOpus:
		return "opus"
	case *mp4.CodecMPEG4Video:
		return "mpeg4"
	case *mp4.CodecMPEG1Video:
		return "mpeg1video"
	case *mp4.CodecMJPEG:
		return "mjpeg"
	case *mp4.CodecAC3:
		return "ac3"
	case *mp4.CodecMPEG1Audio:
		return "mp3"
	case *mp4.CodecLPCM:
		return "lpcm"
	default:
		return "unknown"
	}
}
