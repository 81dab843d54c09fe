package player

import (
	_ "embed"
	"html/template"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-ustream/modules"
)

//go:embed player.html
var playHTML string

var playTemplate = template.Must(template.New("player").Parse(playHTML))

var resourceRegex = regexp.MustCompile(`^[0-9A-Za-z_+-]+$`)

var _ modules.Module[Config] = (*ModuleCtx)(nil)

type ModuleCtx struct {
	logger     zerolog.Logger
	pathPrefix string

	mu     sync.RWMutex
	config Config
}

func New(pathPrefix string, config *Config) *ModuleCtx {
	module := &ModuleCtx{
		logger:     log.With().Str("module", "player").Logger(),
		pathPrefix: pathPrefix,
		config:     config.withDefaultValues(),
	}

	return module
}

func (m *ModuleCtx) Shutdown() {

}

func (m *ModuleCtx) ConfigReload(config *Config) {
	m.mu.Lock()
	m.config = config.withDefaultValues()
	m.mu.Unlock()
}

func (m *ModuleCtx) Cleanup() {

}

// ServeHTTP renders a page playing {source}/{stream} of the ustream module.
func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := strings.Trim(strings.TrimPrefix(r.URL.Path, m.pathPrefix), "/")
	s := strings.Split(p, "/")

	if len(s) != 2 {
		http.NotFound(w, r)
		return
	}

	sourceName, streamName := s[0], s[1]
	if !resourceRegex.MatchString(sourceName) || !resourceRegex.MatchString(streamName) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	prefix := m.config.StreamPrefix
	m.mu.RUnlock()

	contentType := "video/x-matroska"
	if !strings.Contains(streamName, "+") {
		contentType = "video/mp4"
	}

	w.Header().Set("Content-Type", "text/html")
	err := playTemplate.Execute(w, struct {
		Title       string
		Source      string
		ContentType string
	}{
		Title:       sourceName + " " + streamName,
		Source:      path.Join(prefix, sourceName, streamName),
		ContentType: contentType,
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("unable to render player")
	}
}
