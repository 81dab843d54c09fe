package ustream

import "fmt"

const (
	ContentTypeVideo = "video/mp4"
	ContentTypeAudio = "audio/mp4"
)

// Format is the part shared by video and audio renditions that the track
// reader needs to materialise segment URLs.
type Format interface {
	ContentType() string
	InitTemplate() string
	SegmentTemplate() string
	Bitrate() int
}

type VideoFormat struct {
	SourceVersion int    `json:"sourceStreamVersion"`
	InitURL       string `json:"initUrl"`
	SegmentURL    string `json:"segmentUrl"`
	BitrateValue  int    `json:"bitrate"`
	Height        int    `json:"height"`
}

func (f VideoFormat) ContentType() string { return ContentTypeVideo }

func (f VideoFormat) InitTemplate() string { return f.InitURL }

func (f VideoFormat) SegmentTemplate() string { return f.SegmentURL }

func (f VideoFormat) Bitrate() int { return f.BitrateValue }

// Name is the stream name used when the rendition is played alone.
func (f VideoFormat) Name() string {
	return fmt.Sprintf("%dp", f.Height)
}

type AudioFormat struct {
	SourceVersion int    `json:"sourceStreamVersion"`
	InitURL       string `json:"initUrl"`
	SegmentURL    string `json:"segmentUrl"`
	BitrateValue  int    `json:"bitrate"`
	Language      string `json:"language"`
}

func (f AudioFormat) ContentType() string { return ContentTypeAudio }

func (f AudioFormat) InitTemplate() string { return f.InitURL }

func (f AudioFormat) SegmentTemplate() string { return f.SegmentURL }

func (f AudioFormat) Bitrate() int { return f.BitrateValue }

// MuxedName is the stream name of a video rendition paired with this audio.
func (f AudioFormat) MuxedName(video VideoFormat) string {
	return fmt.Sprintf("%s+a%dk", video.Name(), f.BitrateValue/1000)
}
