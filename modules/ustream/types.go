package ustream

import "github.com/m1k1o/go-ustream/pkg/ustream"

type Config struct {
	// source name to channel or video url
	Sources map[string]string

	Options ustream.Options
}

func (c Config) withDefaultValues() Config {
	if c.Sources == nil {
		c.Sources = map[string]string{}
	}
	return c
}
