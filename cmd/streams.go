package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m1k1o/go-ustream/pkg/ustream"
)

func init() {
	command := &cobra.Command{
		Use:   "streams <url>",
		Short: "list streams of a channel or video",
		Long:  `list streams of a ustream.tv or video.ibm.com channel or recorded video`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := ustream.Open(cmd.Context(), args[0], ustreamConfig.Options(nil))
			if err != nil {
				return err
			}
			defer session.Close()

			for _, stream := range session.Streams() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", stream.Name(), stream.ContentType())
			}
			return nil
		},
	}

	rootCmd.AddCommand(command)
}
