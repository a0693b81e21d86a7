package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/filter"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// FileSystemWalker walks directories; swapped out in tests.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader reads file contents; swapped out in tests.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker walks with godirwalk.
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader reads with os.ReadFile.
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// LocalFetcher builds a FileSet from a directory on disk. It applies the
// same skip rules as the GitHub path and synthesizes a commit hash from
// the sorted file listing, so an unchanged tree dedups like an unchanged
// branch head. The zero value is not usable; call NewLocalFetcher.
type LocalFetcher struct {
	RepoID     string
	Walker     FileSystemWalker
	FileReader FileReader
	pre        *filter.Filter
}

func NewLocalFetcher(repoID string) *LocalFetcher {
	return &LocalFetcher{
		RepoID:     repoID,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
		pre:        filter.New(0),
	}
}

type walkedFile struct {
	rel   string
	size  int64
	mtime time.Time
}

// FetchRepo walks the directory named by root and returns its snapshot.
// The signature matches the GitHub client so the ingest path does not
// care where files come from.
func (f *LocalFetcher) FetchRepo(ctx context.Context, root string) (*FileSet, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err, fmt.Sprintf("directory %s", root))
	}
	if !info.IsDir() {
		return nil, apperr.New(apperr.BadInput, "%s is not a directory", root)
	}
	start := time.Now()

	var entries []walkedFile
	walkErr := f.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, relErr := filepath.Rel(root, osPathname)
			if relErr != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if de != nil && de.IsDir() {
				if reason, skip := f.pre.Precheck(rel, 0); skip && reason == models.RejectIgnoredPath {
					return filepath.SkipDir
				}
				return nil
			}
			if de != nil && !de.IsRegular() {
				return nil
			}

			st, statErr := os.Stat(osPathname)
			if statErr != nil {
				log.Warn().Err(statErr).Str("path", rel).Msg("skipping file, stat failed")
				return nil
			}
			if reason, skip := f.pre.Precheck(rel, st.Size()); skip {
				log.Debug().Str("path", rel).Str("reason", string(reason)).Msg("skipping file")
				return nil
			}
			entries = append(entries, walkedFile{rel: rel, size: st.Size(), mtime: st.ModTime()})
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", osPathname).Msg("skipping unreadable entry")
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Cancelled, walkErr, "walk aborted")
		}
		return nil, apperr.Wrap(apperr.Internal, walkErr, fmt.Sprintf("walking %s", root))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	// The pseudo-commit covers the full listing, including files that
	// later fail to read, so the same tree always names the same commit.
	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s|%d|%d\n", e.rel, e.size, e.mtime.UnixNano())
	}
	commit := "local-" + hex.EncodeToString(h.Sum(nil))[:12]

	files := make([]models.FileRecord, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		content, readErr := f.FileReader.ReadFile(filepath.Join(root, filepath.FromSlash(e.rel)))
		if readErr != nil {
			log.Warn().Err(readErr).Str("path", e.rel).Msg("dropping file, read failed")
			dropped++
			continue
		}
		files = append(files, models.FileRecord{Path: e.rel, Size: e.size, Content: content})
	}

	owner, name := splitRepoID(f.RepoID)
	log.Info().
		Str("repo_id", f.RepoID).
		Str("commit", commit).
		Int("files", len(files)).
		Int("dropped", dropped).
		Dur("duration", time.Since(start)).
		Msg("fetched local snapshot")

	return &FileSet{
		Owner:         owner,
		Name:          name,
		RepoID:        f.RepoID,
		DefaultBranch: "local",
		CommitHash:    commit,
		Files:         files,
		Dropped:       dropped,
	}, nil
}

func splitRepoID(repoID string) (owner, name string) {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok {
		return "local", repoID
	}
	return owner, name
}
