package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopscan/internal/config"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "submit <video.mp4>",
		Short: "Upload a capture video for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			post, err := apiUploadVideo(cmd.Context(), ctx.apiBase(), path, title)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %s\n", post.ID)
			if post.VideoURL != nil {
				fmt.Fprintf(out, "Video: %s%s\n", ctx.apiBase(), *post.VideoURL)
			}
			fmt.Fprintf(out, "Track progress with `shopscan show %s`\n", post.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Post title")
	return cmd
}
