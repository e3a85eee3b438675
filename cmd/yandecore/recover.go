package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"yandecore/internal/model"
)

func newRecoverCmd() *cobra.Command {
	var favoritesPath string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run the startup reconciliation pass: resume orphaned .tmp files and missing favorites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := appFrom(cmd)

			favs, err := loadFavorites(favoritesPath)
			if err != nil {
				return fmt.Errorf("yandecore recover: %w", err)
			}

			downloaded := scanDownloaded(ac.cfg.BaseDir)
			ac.recovery.Run(context.Background(), favs, downloaded)

			fmt.Fprintf(cmd.OutOrStdout(), "recovery pass submitted: %d favorite(s) considered, %d already downloaded\n", len(favs), len(downloaded))
			return nil
		},
	}

	cmd.Flags().StringVar(&favoritesPath, "favorites", "", "path to the persisted favorites.json map (required)")
	cmd.MarkFlagRequired("favorites")

	return cmd
}

func loadFavorites(path string) (map[string]model.FavoriteRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read favorites file: %w", err)
	}
	var favs map[string]model.FavoriteRecord
	if err := json.Unmarshal(raw, &favs); err != nil {
		return nil, fmt.Errorf("parse favorites file: %w", err)
	}
	return favs, nil
}

var ratingFolders = []string{"Safe", "Questionable", "Explicit"}

// scanDownloaded walks base_dir/{Safe,Questionable,Explicit} for finished
// (non-.tmp) files and returns the set of post ids already present on
// disk, by the same "{id}_..." filename convention the downloader's plan
// step produces.
func scanDownloaded(baseDir string) map[string]struct{} {
	downloaded := make(map[string]struct{})
	for _, folder := range ratingFolders {
		entries, err := os.ReadDir(filepath.Join(baseDir, folder))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
				continue
			}
			idx := strings.Index(e.Name(), "_")
			if idx <= 0 {
				continue
			}
			if _, err := strconv.ParseInt(e.Name()[:idx], 10, 64); err != nil {
				continue
			}
			downloaded[e.Name()[:idx]] = struct{}{}
		}
	}
	return downloaded
}
