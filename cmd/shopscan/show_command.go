package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <post-id>",
		Short: "Show one post: artifacts, summary, detected products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var post postView
			if err := apiGet(cmd.Context(), ctx.apiBase(), "/api/posts/"+args[0], &post); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			base := ctx.apiBase()
			fmt.Fprintf(out, "Post %s\n", post.ID)
			if post.Title != "" {
				fmt.Fprintf(out, "Title:   %s\n", post.Title)
			}
			fmt.Fprintf(out, "Status:  %s\n", post.Status)
			if post.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:   %s\n", post.ErrorMessage)
			}
			fmt.Fprintf(out, "Created: %s\n", post.CreatedAt)
			printURL(out, base, "Video", post.VideoURL)
			printURL(out, base, "Model", post.PlyURL)
			printURL(out, base, "Path", post.TrajURL)
			printURL(out, base, "Points", post.PointsURL)
			printURL(out, base, "Log", post.LogURL)
			if post.AISummary != nil {
				fmt.Fprintf(out, "\nSummary: %s\n", *post.AISummary)
			}

			if len(post.Products) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(post.Products))
			for _, product := range post.Products {
				price := "-"
				if product.Price != nil {
					price = *product.Price
				}
				position := "-"
				if product.X != nil && product.Y != nil && product.Z != nil {
					position = fmt.Sprintf("%.3f %.3f %.3f", *product.X, *product.Y, *product.Z)
				}
				image := "-"
				if product.ImageURL != nil {
					image = base + *product.ImageURL
				}
				rows = append(rows, []string{
					product.Name,
					price,
					fmt.Sprintf("%02d:%02d.%03d", product.TimeMin, product.TimeSec, product.TimeMS),
					position,
					image,
				})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]string{"Product", "Price", "Seen", "Position", "Image"},
				rows,
				1, 2,
			))
			return nil
		},
	}
}

func printURL(out io.Writer, base, label string, url *string) {
	if url == nil {
		return
	}
	fmt.Fprintf(out, "%-8s %s%s\n", label+":", base, *url)
}
