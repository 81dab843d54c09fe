package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-ustream/internal/config"
)

// searched for config.yaml on linux, next to the working directory
const defCfgPath = "/etc/ustream/"

// USTREAM_BIND, USTREAM_USTREAM_PASSWORD, ...
const envPrefix = "USTREAM"

var rootCmd = &cobra.Command{
	Use:     "ustream",
	Short:   "Ustream ingest CLI.",
	Long:    `Ustream live and recorded video ingest, served over HTTP.`,
	Version: "1.0.0",
}

// called once configuration is loaded and again on every config file change
var onConfigLoad []func()

// shared by every command
var ustreamConfig = &config.Ustream{}

func init() {
	var cfgFile string
	var logConfig logConfig

	cobra.OnInitialize(func() {
		loadConfiguration(cfgFile)
		logConfig.Set()
		initLogging(logConfig)

		reload := func() {
			ustreamConfig.Set()
			for _, fn := range onConfigLoad {
				fn()
			}
		}

		file := viper.ConfigFileUsed()
		if file == "" {
			log.Warn().Msg("no config file, using flags and environment only")
		} else {
			viper.OnConfigChange(func(e fsnotify.Event) {
				log.Info().Str("config", e.Name).Str("op", e.Op.String()).Msg("config file changed")
				reload()
			})
			viper.WatchConfig()

			log.Info().Str("config", file).Msg("watching config file")
		}

		reload()
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	if err := logConfig.Init(rootCmd); err != nil {
		log.Panic().Err(err).Msg("unable to init log configuration")
	}

	// engine settings are used by serve, streams and play alike
	if err := ustreamConfig.Init(rootCmd); err != nil {
		log.Panic().Err(err).Msg("unable to init ustream configuration")
	}
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfiguration(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}
		viper.AddConfigPath(".")
	}

	// ustream.segment-threads -> USTREAM_USTREAM_SEGMENT_THREADS
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// a missing default config is fine, an explicit one must load
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		panic(fmt.Errorf("unable to read config file %s: %w", cfgFile, err))
	}
}
