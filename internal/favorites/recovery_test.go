package favorites

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yandecore/internal/model"
)

type fakeDownloader struct {
	downloaded []string
	resumed    []string
}

func (f *fakeDownloader) SubmitDownload(post model.Post, baseDir string, onProgress func(string, float64), onComplete func(string, string), onError func(string, error)) *model.CancelToken {
	f.downloaded = append(f.downloaded, post.AssetID())
	return model.NewCancelToken()
}

func (f *fakeDownloader) SubmitResume(ctx context.Context, postID, baseDir string, onComplete func(string, string), onError func(string, error)) (*model.CancelToken, error) {
	f.resumed = append(f.resumed, postID)
	return model.NewCancelToken(), nil
}

func TestScanOrphansFindsTmpFilesAcrossFolders(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "Safe"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "Explicit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "Safe", "12_tag.jpg.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "Explicit", "99_other.png.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "Safe", "not_numeric.tmp"), []byte("x"), 0o644))

	r := New(&fakeDownloader{}, base, nil)
	orphans := r.ScanOrphans()

	ids := map[string]bool{}
	for _, o := range orphans {
		ids[o.PostID] = true
	}
	assert.True(t, ids["12"])
	assert.True(t, ids["99"])
	assert.Len(t, orphans, 2)
}

func TestRunResumesOrphansAndMissingFavorites(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "Safe"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "Safe", "1_a.jpg.tmp"), []byte("x"), 0o644))

	fake := &fakeDownloader{}
	r := New(fake, base, nil)

	favorites := map[string]model.FavoriteRecord{
		"1": {ID: 1, Tags: "a"},                                  // has an orphan, should be resumed once
		"2": {ID: 2, Tags: "b", FileURL: "https://x.test/2.jpg"}, // no orphan, has file_url -> download
		"3": {ID: 3, Tags: "c"},                                  // no orphan, no file_url -> resume
	}
	downloaded := map[string]struct{}{}

	r.Run(context.Background(), favorites, downloaded)

	assert.ElementsMatch(t, []string{"1", "3"}, fake.resumed)
	assert.ElementsMatch(t, []string{"2"}, fake.downloaded)
}

func TestRunSkipsAlreadyDownloaded(t *testing.T) {
	base := t.TempDir()
	fake := &fakeDownloader{}
	r := New(fake, base, nil)

	favorites := map[string]model.FavoriteRecord{"5": {ID: 5}}
	downloaded := map[string]struct{}{"5": {}}

	r.Run(context.Background(), favorites, downloaded)

	assert.Empty(t, fake.resumed)
	assert.Empty(t, fake.downloaded)
}
