package ustream

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentURL(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/live/")

	tests := []struct {
		name     string
		base     *url.URL
		segment  Segment
		template string
		want     string
	}{
		{
			name:     "init segment",
			base:     base,
			segment:  Segment{Num: 100, Hash: "h", Path: "media"},
			template: "init-%-%.m4s",
			want:     "https://cdn.example/live/media/init-100-h.m4s",
		},
		{
			name:     "media segment",
			base:     base,
			segment:  Segment{Num: 100, Hash: "h", Path: "media"},
			template: "seg-%-%.m4s",
			want:     "https://cdn.example/live/media/seg-100-h.m4s",
		},
		{
			name:     "only first two placeholders, invalid escape is joined",
			base:     base,
			segment:  Segment{Num: 7, Hash: "abc", Path: "p"},
			template: "%/%/%.m4s",
			want:     "https://cdn.example/live/p/7/abc/%.m4s",
		},
		{
			name:     "absolute path replaces base path",
			base:     base,
			segment:  Segment{Num: 1, Hash: "x", Path: "/other"},
			template: "s-%-%.m4s",
			want:     "https://cdn.example/other/s-1-x.m4s",
		},
		{
			name:     "no base",
			segment:  Segment{Num: 5, Hash: "z", Path: "media"},
			template: "seg-%-%.m4s",
			want:     "media/seg-5-z.m4s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.segment.URL(tt.base, tt.template))
			// deterministic
			assert.Equal(t, tt.segment.URL(tt.base, tt.template), tt.segment.URL(tt.base, tt.template))
		})
	}
}

func TestSegmentAvailable(t *testing.T) {
	now := time.Now()

	assert.True(t, Segment{AvailableAt: now.Add(-time.Second)}.Available(now))
	assert.True(t, Segment{AvailableAt: now}.Available(now))
	assert.False(t, Segment{AvailableAt: now.Add(time.Second)}.Available(now))
}
