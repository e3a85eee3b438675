package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"yandecore/internal/model"
)

func newDownloadCmd() *cobra.Command {
	var (
		postID  int64
		fileURL string
		rating  string
		tags    string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Submit a single post for download and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := appFrom(cmd)

			post := model.Post{
				ID:      postID,
				Rating:  model.ParseRating(rating),
				FileURL: fileURL,
				Tags:    tags,
			}

			done := make(chan error, 1)
			token := ac.downloader.SubmitDownload(post, ac.cfg.BaseDir,
				func(id string, percent float64) {
					fmt.Fprintf(cmd.OutOrStdout(), "\rpost %s: %.1f%%", id, percent)
				},
				func(id string, path string) {
					fmt.Fprintf(cmd.OutOrStdout(), "\npost %s: completed -> %s\n", id, path)
					done <- nil
				},
				func(id string, err error) {
					done <- fmt.Errorf("post %s: %w", id, err)
				},
			)
			if token == nil {
				return fmt.Errorf("yandecore download: a task for post %d is already active", postID)
			}

			select {
			case err := <-done:
				return err
			case <-time.After(10 * time.Minute):
				ac.downloader.CancelDownload(post.AssetID(), "cli timeout")
				return fmt.Errorf("yandecore download: timed out waiting for post %d", postID)
			}
		},
	}

	cmd.Flags().Int64Var(&postID, "id", 0, "post id (required)")
	cmd.Flags().StringVar(&fileURL, "file-url", "", "source file URL (required)")
	cmd.Flags().StringVar(&rating, "rating", "safe", "content rating (safe|questionable|explicit)")
	cmd.Flags().StringVar(&tags, "tags", "", "space-separated tags, folded into the saved filename")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("file-url")

	return cmd
}
