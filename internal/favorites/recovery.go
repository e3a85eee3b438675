// Package favorites implements the startup reconciliation described in
// §4.9: orphaned .tmp files are resumed, and favorited posts missing
// from the downloaded set are either resumed (if a partial exists or a
// file_url is already known) or re-fetched and downloaded from
// scratch. Grounded on the teacher's internal/engine.RecoverInterruptedDownloads
// for the overall "scan on startup, submit whatever is missing" shape,
// generalized from a single orphan-scan pass into the spec's two-source
// reconciliation (orphan .tmp files plus the favorites map).
package favorites

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"yandecore/internal/model"
)

// Orphan is a `.tmp` file discovered under base_dir with no
// corresponding finished asset.
type Orphan struct {
	Path   string
	PostID string
	Folder string
}

// Downloader is the subset of internal/downloader.Manager the recovery
// pass needs, expressed as an interface so this package doesn't import
// downloader (and so tests can substitute a fake).
type Downloader interface {
	SubmitDownload(post model.Post, baseDir string, onProgress func(string, float64), onComplete func(string, string), onError func(string, error)) *model.CancelToken
	SubmitResume(ctx context.Context, postID, baseDir string, onComplete func(string, string), onError func(string, error)) (*model.CancelToken, error)
}

// Recovery runs the startup reconciliation pass.
type Recovery struct {
	downloader Downloader
	baseDir    string
	logger     *slog.Logger
}

// New constructs a Recovery bound to a downloader and library root.
func New(downloader Downloader, baseDir string, logger *slog.Logger) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{downloader: downloader, baseDir: baseDir, logger: logger}
}

var ratingFolders = []string{"Safe", "Questionable", "Explicit"}

// ScanOrphans walks base_dir/{Safe,Questionable,Explicit} for *.tmp
// files and returns one Orphan per file found. A filename that doesn't
// start with a numeric id is skipped (it cannot be attributed to a
// post).
func (r *Recovery) ScanOrphans() []Orphan {
	var orphans []Orphan
	for _, folder := range ratingFolders {
		dir := filepath.Join(r.baseDir, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
				continue
			}
			id := idFromFilename(e.Name())
			if id == "" {
				continue
			}
			orphans = append(orphans, Orphan{
				Path:   filepath.Join(dir, e.Name()),
				PostID: id,
				Folder: folder,
			})
		}
	}
	return orphans
}

// idFromFilename extracts the leading "{id}_" prefix the downloader's
// sanitizer always produces (see internal/downloader.plan).
func idFromFilename(name string) string {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return ""
	}
	candidate := name[:idx]
	if _, err := strconv.ParseInt(candidate, 10, 64); err != nil {
		return ""
	}
	return candidate
}

// Run executes the full reconciliation: resume every orphan .tmp, then
// resume-or-redownload every favorited post missing from downloaded.
// downloaded is the set of post ids (AssetID form) already present as
// finished files in the library, as produced by the library scan.
func (r *Recovery) Run(ctx context.Context, favorites map[string]model.FavoriteRecord, downloaded map[string]struct{}) {
	orphanIDs := make(map[string]struct{})
	for _, o := range r.ScanOrphans() {
		orphanIDs[o.PostID] = struct{}{}
		r.resume(ctx, o.PostID)
	}

	for id, record := range favorites {
		if _, done := downloaded[id]; done {
			continue
		}
		if _, resuming := orphanIDs[id]; resuming {
			continue // already being resumed above
		}

		if record.FileURL != "" {
			post := model.Post{
				ID:      record.ID,
				Rating:  record.Rating,
				FileURL: record.FileURL,
				Tags:    record.Tags,
			}
			r.downloader.SubmitDownload(post, r.baseDir, nil,
				func(string, string) {},
				func(postID string, err error) {
					r.logger.Warn("favorites recovery: download failed", "post_id", postID, "error", err)
				})
			continue
		}

		r.resume(ctx, id)
	}
}

func (r *Recovery) resume(ctx context.Context, postID string) {
	_, err := r.downloader.SubmitResume(ctx, postID, r.baseDir,
		func(string, string) {},
		func(pid string, err error) {
			r.logger.Warn("favorites recovery: resume failed", "post_id", pid, "error", err)
		})
	if err != nil {
		r.logger.Warn("favorites recovery: could not submit resume", "post_id", postID, "error", err)
	}
}
