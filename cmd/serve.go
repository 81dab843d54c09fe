package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-ustream/internal/config"
	"github.com/m1k1o/go-ustream/internal/serve"
)

func init() {
	service := serve.NewCommand(ustreamConfig)

	command := &cobra.Command{
		Use:   "serve",
		Short: "serve ustream http server",
		Long:  `serve ustream http server`,
		Run:   service.Run,
	}

	configs := []config.Config{
		service.ServerConfig,
	}

	preflight := false
	onConfigLoad = append(onConfigLoad, func() {
		for _, cfg := range configs {
			cfg.Set()
		}

		if !preflight {
			service.Preflight()
			preflight = true
			return
		}

		service.ConfigReload()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
