package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yandecore/internal/model"
	"yandecore/internal/preloader"
)

func newWarmCmd() *cobra.Command {
	var postsPath string
	var immediate bool

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Preload a batch of posts into the image cache",
		Long:  "Reads a JSON array of posts from --posts and enqueues each into the preloader.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := appFrom(cmd)

			raw, err := os.ReadFile(postsPath)
			if err != nil {
				return fmt.Errorf("yandecore warm: read posts file: %w", err)
			}
			var posts []model.Post
			if err := json.Unmarshal(raw, &posts); err != nil {
				return fmt.Errorf("yandecore warm: parse posts file: %w", err)
			}

			if immediate {
				for _, p := range posts {
					ac.preloader.PreloadImmediate(p)
				}
			} else {
				ac.preloader.PreloadBatch(posts, preloader.PriorityPrefetch)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d post(s) for preload\n", len(posts))
			return nil
		},
	}

	cmd.Flags().StringVar(&postsPath, "posts", "", "path to a JSON array of post descriptors (required)")
	cmd.Flags().BoolVar(&immediate, "immediate", false, "use PreloadImmediate priority instead of batch priority")
	cmd.MarkFlagRequired("posts")

	return cmd
}
