package player

type Config struct {
	// path prefix of the ustream module
	StreamPrefix string
}

func (c Config) withDefaultValues() Config {
	if c.StreamPrefix == "" {
		c.StreamPrefix = "/ustream/"
	}
	return c
}
