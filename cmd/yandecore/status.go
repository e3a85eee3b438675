package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a point-in-time snapshot of the downloader, cache, and event bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := appFrom(cmd)

			dl := ac.downloader.GetStatus()
			cs := ac.imgCache.Stats()
			bs := ac.bus.Stats()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "downloader: pending=%d resuming=%d active=%d failed=%d\n", dl.Pending, dl.Resuming, dl.Active, dl.Failed)
			fmt.Fprintf(out, "image cache: size=%d/%d bytes=%d/%d hits=%d misses=%d\n",
				cs.Size, ac.cfg.MaxImageCache, cs.MemoryBytes, cs.MaxMemoryBytes, cs.Hits, cs.Misses)
			fmt.Fprintf(out, "event bus: published=%d delivered=%d errored=%d\n", bs.Published, bs.Delivered, bs.Errored)
			fmt.Fprintf(out, "base dir: %s\n", ac.cfg.BaseDir)
			return nil
		},
	}
}
