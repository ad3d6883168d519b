package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List posts and their processing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var posts []postView
			if err := apiGet(cmd.Context(), ctx.apiBase(), "/api/posts", &posts); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(posts) == 0 {
				fmt.Fprintln(out, "No posts yet.")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(posts))
			for _, post := range posts {
				title := post.Title
				if title == "" {
					title = "-"
				}
				detail := post.ErrorMessage
				if detail == "" && post.Status == "done" {
					detail = strconv.Itoa(len(post.Products)) + " products"
				}
				rows = append(rows, []string{
					post.ID,
					renderStatus(post.Status, colorize),
					title,
					post.CreatedAt,
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Title", "Created", "Detail"},
				rows,
			))
			return nil
		},
	}
}

func renderStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	switch status {
	case "done":
		return ansiGreen + status + ansiReset
	case "error":
		return ansiRed + status + ansiReset
	case "processing":
		return ansiYellow + status + ansiReset
	default:
		return status
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
