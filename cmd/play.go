package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-ustream/pkg/ustream"
)

func init() {
	var output string

	command := &cobra.Command{
		Use:   "play <url> <stream>",
		Short: "write a stream to stdout or a file",
		Long:  `write a stream of a ustream.tv or video.ibm.com channel to stdout or a file until interrupted`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}

			return play(ctx, out, args[0], args[1])
		},
	}

	command.Flags().StringVarP(&output, "output", "o", "", "output file, stdout by default")

	rootCmd.AddCommand(command)
}

func play(ctx context.Context, out io.Writer, rawURL, name string) error {
	session, err := ustream.Open(ctx, rawURL, ustreamConfig.Options(nil))
	if err != nil {
		return err
	}
	defer session.Close()

	stream, err := session.Stream(name)
	if err != nil {
		return fmt.Errorf("%w, available: %s", err, strings.Join(session.Names(), ", "))
	}

	reader, err := stream.Open()
	if err != nil {
		return err
	}

	stopRead := context.AfterFunc(ctx, func() {
		_ = reader.Close()
	})
	defer stopRead()
	defer reader.Close()

	logger := log.With().Str("stream", name).Logger()
	logger.Info().Str("content-type", stream.ContentType()).Msg("playing stream")

	n, err := io.Copy(out, reader)
	if errors.Is(err, io.ErrClosedPipe) && ctx.Err() != nil {
		err = nil
	}

	logger.Info().Err(err).Int64("bytes", n).Msg("stream finished")
	return err
}
