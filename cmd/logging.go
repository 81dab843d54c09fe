package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logConfig struct {
	Level   string
	Console bool
	File    string

	// lumberjack rotation of File
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int // files
}

func (logConfig) Init(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("log.level", "", "log level: trace, debug, info, warn, error")
	flags.Bool("log.console", true, "log to stderr")
	flags.String("log.file", "", "also log to this file")
	flags.Int("log.maxage", 0, "days to keep rotated log files")
	flags.Int("log.maxsize", 100, "megabytes before the log file is rotated")
	flags.Int("log.maxbackups", 0, "rotated log files to keep")

	for _, name := range []string{"log.level", "log.console", "log.file", "log.maxage", "log.maxsize", "log.maxbackups"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

func (c *logConfig) Set() {
	c.Level = viper.GetString("log.level")
	c.Console = viper.GetBool("log.console")
	c.File = viper.GetString("log.file")
	c.MaxAge = viper.GetInt("log.maxage")
	c.MaxSize = viper.GetInt("log.maxsize")
	c.MaxBackups = viper.GetInt("log.maxbackups")
}

// parseLevel falls back to info for an empty or unknown level.
func parseLevel(s string) (zerolog.Level, bool) {
	if s == "" {
		return zerolog.InfoLevel, true
	}

	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, false
	}
	return level, true
}

func logWriters(config logConfig) []io.Writer {
	var writers []io.Writer

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if config.File != "" {
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxAge:     config.MaxAge,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
		}

		// logrotate style rotation
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				_ = file.Rotate()
			}
		}()

		writers = append(writers, file)
	}

	return writers
}

func initLogging(config logConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(io.MultiWriter(logWriters(config)...))

	level, ok := parseLevel(config.Level)
	zerolog.SetGlobalLevel(level)
	if !ok {
		log.Warn().Str("log-level", config.Level).Msg("unknown log level, using info")
	}

	log.Info().
		Str("level", level.String()).
		Bool("console", config.Console).
		Str("file", config.File).
		Msg("logging configured")
}
