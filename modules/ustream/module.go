package ustream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-ustream/internal/utils"
	"github.com/m1k1o/go-ustream/modules"
	"github.com/m1k1o/go-ustream/pkg/ustream"
)

var (
	sourceRegex = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)
	streamRegex = regexp.MustCompile(`^[0-9A-Za-z_+-]+$`)
)

var _ modules.Module[Config] = (*ModuleCtx)(nil)

type ModuleCtx struct {
	logger     zerolog.Logger
	pathPrefix string

	configMu sync.RWMutex
	config   Config

	sessionsMu sync.Mutex
	sessions   map[*ustream.Session]struct{}
}

func New(pathPrefix string, config *Config) *ModuleCtx {
	module := &ModuleCtx{
		logger:     log.With().Str("module", "ustream").Str("submodule", "http").Logger(),
		pathPrefix: pathPrefix,
		config:     config.withDefaultValues(),

		sessions: make(map[*ustream.Session]struct{}),
	}

	return module
}

// Shutdown closes every open session, their responses end with them.
func (m *ModuleCtx) Shutdown() {
	m.sessionsMu.Lock()
	sessions := m.sessions
	m.sessions = make(map[*ustream.Session]struct{})
	m.sessionsMu.Unlock()

	for session := range sessions {
		session.Close()
	}
}

// ConfigReload applies to new requests, streams already playing keep their
// session.
func (m *ModuleCtx) ConfigReload(config *Config) {
	m.configMu.Lock()
	m.config = config.withDefaultValues()
	m.configMu.Unlock()
}

func (m *ModuleCtx) Cleanup() {

}

func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, m.pathPrefix) {
		http.NotFound(w, r)
		return
	}

	p := r.URL.Path
	// remove path prefix
	p = strings.TrimPrefix(p, m.pathPrefix)
	// remove leading and ending /
	p = strings.Trim(p, "/")
	// split path to parts
	s := strings.Split(p, "/")

	// {source} or {source}/{stream}
	if len(s) > 2 || s[0] == "" {
		http.NotFound(w, r)
		return
	}

	sourceName := s[0]
	if !sourceRegex.MatchString(sourceName) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	if len(s) == 2 && !streamRegex.MatchString(s[1]) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	m.configMu.RLock()
	source, ok := m.config.Sources[sourceName]
	options := m.config.Options
	m.configMu.RUnlock()

	if !ok {
		http.Error(w, "404 source not found", http.StatusNotFound)
		return
	}

	logger := m.logger.With().Str("source", sourceName).Logger()

	session, err := ustream.Open(r.Context(), source, options)
	if err != nil {
		m.openError(logger, w, r, err)
		return
	}

	m.track(session)
	defer m.untrack(session)

	if len(s) == 1 {
		m.listStreams(w, session)
		return
	}

	m.playStream(logger, w, r, session, s[1])
}

func (m *ModuleCtx) listStreams(w http.ResponseWriter, session *ustream.Session) {
	w.Header().Set("Content-Type", "application/json")

	//nolint
	_ = json.NewEncoder(w).Encode(struct {
		Streams []string `json:"streams"`
	}{
		Streams: session.Names(),
	})
}

func (m *ModuleCtx) playStream(logger zerolog.Logger, w http.ResponseWriter, r *http.Request, session *ustream.Session, name string) {
	stream, err := session.Stream(name)
	if err != nil {
		http.Error(w, "404 stream not found", http.StatusNotFound)
		return
	}

	logger = logger.With().Str("stream", name).Logger()

	reader, err := stream.Open()
	if err != nil {
		logger.Warn().Err(err).Msg("stream could not be opened")
		http.Error(w, "502 stream not available", http.StatusBadGateway)
		return
	}

	// unblock pending reads once the client is gone
	stop := context.AfterFunc(r.Context(), func() {
		_ = reader.Close()
	})
	defer stop()
	defer reader.Close()

	w.Header().Set("Content-Type", stream.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	logger.Info().Msg("stream started")

	n, err := utils.CopyToHTTP(w, reader)
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	logger.Info().Err(err).Int64("bytes", n).Msg("stream finished")
}

func (m *ModuleCtx) openError(logger zerolog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var streamErr *ustream.StreamError

	switch {
	case errors.As(err, &streamErr):
		logger.Info().Str("reason", streamErr.Reason).Msg("stream rejected")
		http.Error(w, "502 "+streamErr.Reason, http.StatusBadGateway)
	case r.Context().Err() != nil:
		logger.Debug().Err(err).Msg("client gone before session was ready")
	case ustream.IsTimeout(err):
		logger.Warn().Err(err).Msg("session not ready in time")
		http.Error(w, "504 session not ready", http.StatusGatewayTimeout)
	case errors.Is(err, ustream.ErrInvalidURL):
		logger.Error().Err(err).Msg("invalid source url")
		http.Error(w, "500 invalid source", http.StatusInternalServerError)
	default:
		logger.Warn().Err(err).Msg("session could not be opened")
		http.Error(w, "502 not available", http.StatusBadGateway)
	}
}

func (m *ModuleCtx) track(session *ustream.Session) {
	m.sessionsMu.Lock()
	m.sessions[session] = struct{}{}
	m.sessionsMu.Unlock()
}

// untrack closes the session, it is a no-op for sessions already closed by
// their last stream.
func (m *ModuleCtx) untrack(session *ustream.Session) {
	m.sessionsMu.Lock()
	delete(m.sessions, session)
	m.sessionsMu.Unlock()

	session.Close()
}
