package serve

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-ustream/internal/config"
	"github.com/m1k1o/go-ustream/internal/metrics"
	"github.com/m1k1o/go-ustream/internal/server"
	"github.com/m1k1o/go-ustream/modules/player"
	ustreamModule "github.com/m1k1o/go-ustream/modules/ustream"
)

func NewCommand(ustreamConfig *config.Ustream) *Main {
	return &Main{
		ServerConfig:  &server.Config{},
		UstreamConfig: ustreamConfig,
	}
}

type Main struct {
	ServerConfig  *server.Config
	UstreamConfig *config.Ustream

	logger  zerolog.Logger
	metrics *metrics.Metrics
	server  *server.ServerManagerCtx
	ustream *ustreamModule.ModuleCtx
	player  *player.ModuleCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) moduleConfig() *ustreamModule.Config {
	return &ustreamModule.Config{
		Sources: main.UstreamConfig.Sources,
		Options: main.UstreamConfig.Options(main.metrics),
	}
}

func (main *Main) start() {
	main.metrics = metrics.New()
	main.server = server.New(main.ServerConfig, main.metrics)

	main.ustream = ustreamModule.New("/ustream/", main.moduleConfig())
	main.server.Handle("/ustream/", main.ustream)
	main.logger.Info().Msg("ustream registered")

	main.player = player.New("/player/", &player.Config{
		StreamPrefix: "/ustream/",
	})
	main.server.Handle("/player/", main.player)
	main.logger.Info().Msg("player registered")

	main.server.Start()

	if len(main.UstreamConfig.Sources) == 0 {
		main.logger.Warn().Msg("no ustream sources configured")
	} else {
		main.logger.Info().Interface("sources", main.UstreamConfig.Sources).Msg("serving ustream sources")
	}
}

// ConfigReload pushes the current configuration to running modules.
func (main *Main) ConfigReload() {
	if main.ustream == nil {
		return
	}

	main.ustream.ConfigReload(main.moduleConfig())
	main.logger.Info().Interface("sources", main.UstreamConfig.Sources).Msg("ustream sources reloaded")
}

func (main *Main) shutdown() {
	err := main.server.Shutdown()
	main.logger.Err(err).Msg("http manager shutdown")

	if main.ustream != nil {
		main.ustream.Shutdown()
		main.logger.Info().Msg("ustream shutdown")
	}

	if main.player != nil {
		main.player.Shutdown()
		main.logger.Info().Msg("player shutdown")
	}
}

func (main *Main) Run(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.shutdown()
	main.logger.Info().Msg("shutdown complete")
}
