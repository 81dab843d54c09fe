package ustream

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Segment is one media chunk published by the control channel.
type Segment struct {
	Num         int64
	Duration    time.Duration
	AvailableAt time.Time
	Hash        string
	Path        string
}

// URL materialises the segment against the CDN base. The first % of the
// template is replaced by the segment number, the second one by its hash.
func (s Segment) URL(base *url.URL, template string) string {
	name := strings.Replace(template, "%", strconv.FormatInt(s.Num, 10), 1)
	name = strings.Replace(name, "%", s.Hash, 1)
	rel := s.Path + "/" + name

	if base == nil {
		return rel
	}

	ref, err := url.Parse(rel)
	if err != nil {
		return strings.TrimRight(base.String(), "/") + "/" + rel
	}

	return base.ResolveReference(ref).String()
}

// Available reports whether the segment may be fetched at the given instant.
func (s Segment) Available(now time.Time) bool {
	return !s.AvailableAt.After(now)
}
