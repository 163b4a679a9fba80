package post

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Default locations, relative to the repository root.
const (
	DefaultPostsDir       = "content/posts"
	DefaultAttachmentsDir = "public/attachments"
)

// Ext is the file extension of a stored post.
const Ext = ".md"

// Errors returned by the Store.
var (
	// ErrNotFound is returned when no post exists for the requested slug or
	// message id.
	ErrNotFound = errors.New("post not found")

	// ErrBadSlug is returned when a slug would escape the posts directory.
	ErrBadSlug = errors.New("invalid post slug")

	// ErrThreadConflict is returned when two thread ids map to the same index
	// file.
	ErrThreadConflict = errors.New("thread index belongs to another thread")
)

// Store reads and writes posts, attachments and thread indexes.
//
// The store assumes a single writer. Each file is replaced atomically, but
// nothing coordinates concurrent writers of the same thread index.
type Store struct {
	fs             afero.Fs
	postsDir       string
	attachmentsDir string
	logger         *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(s *Store)

// WithPostsDir sets where post files and thread indexes are kept.
func WithPostsDir(dir string) StoreOption {
	return func(s *Store) { s.postsDir = dir }
}

// WithAttachmentsDir sets where attachment directories are kept.
func WithAttachmentsDir(dir string) StoreOption {
	return func(s *Store) { s.attachmentsDir = dir }
}

// WithLogger attaches a logger to the store.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore builds a store on top of fs.
func NewStore(fs afero.Fs, opts ...StoreOption) *Store {
	s := &Store{
		fs:             fs,
		postsDir:       DefaultPostsDir,
		attachmentsDir: DefaultAttachmentsDir,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fs returns the file system the store works on.
func (s *Store) Fs() afero.Fs { return s.fs }

// PostsDir returns the directory holding post files.
func (s *Store) PostsDir() string { return s.postsDir }

// AttachmentsDir returns the directory holding attachment directories.
func (s *Store) AttachmentsDir() string { return s.attachmentsDir }

// PostPath returns the path of the file for slug.
func (s *Store) PostPath(slug string) string {
	return filepath.Join(s.postsDir, slug+Ext)
}

// AttachmentDir returns the directory holding the attachments of slug.
func (s *Store) AttachmentDir(slug string) string {
	return filepath.Join(s.attachmentsDir, slug)
}

func (s *Store) ensureDirectories() error {
	for _, dir := range []string{s.postsDir, s.attachmentsDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func checkSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadSlug, slug)
	}
	return nil
}

// Save writes a post under slug. If a post with that slug already exists, a
// numeric suffix is added (slug-1, slug-2, ...) until a free name is found.
// It returns the slug actually used.
func (s *Store) Save(slug string, content []byte) (string, error) {
	if err := checkSlug(slug); err != nil {
		return "", err
	}

	if err := s.ensureDirectories(); err != nil {
		return "", err
	}

	final := slug
	for n := 1; ; n++ {
		exists, err := afero.Exists(s.fs, s.PostPath(final))
		if err != nil {
			return "", fmt.Errorf("check %s: %w", s.PostPath(final), err)
		}
		if !exists {
			break
		}
		final = slug + "-" + strconv.Itoa(n)
	}

	if err := writeFileAtomic(s.fs, s.PostPath(final), content); err != nil {
		return "", err
	}

	s.logger.Info("post saved", zap.String("slug", final), zap.String("path", s.PostPath(final)))
	return final, nil
}

// SavedAttachment records where an attachment was written.
type SavedAttachment struct {
	Filename string
	Path     string
}

// Attachment is the data needed to store one attachment.
type Attachment struct {
	Filename string
	Content  []byte
}

// SaveAttachments writes attachment binaries into the directory for slug.
// Filenames are reduced to their base name, and a duplicate name within the
// same post gets a numeric suffix ahead of its extension.
func (s *Store) SaveAttachments(slug string, atts []Attachment) ([]SavedAttachment, error) {
	if err := checkSlug(slug); err != nil {
		return nil, err
	}

	if len(atts) == 0 {
		return nil, nil
	}

	if err := s.ensureDirectories(); err != nil {
		return nil, err
	}

	dir := s.AttachmentDir(slug)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	names := make([]string, len(atts))
	for i, att := range atts {
		names[i] = att.Filename
	}
	names = AttachmentNames(names)

	saved := make([]SavedAttachment, 0, len(atts))
	for i, att := range atts {
		name := names[i]
		p := filepath.Join(dir, name)
		if err := writeFileAtomic(s.fs, p, att.Content); err != nil {
			return saved, err
		}

		s.logger.Info("attachment saved", zap.String("slug", slug), zap.String("filename", name))
		saved = append(saved, SavedAttachment{Filename: name, Path: p})
	}

	return saved, nil
}

// SafeFilename strips any directory components from an attachment name so
// it cannot be written outside its post directory.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return "unnamed"
	}
	return name
}

// AttachmentNames returns the names the given attachments will be stored
// under: each is passed through SafeFilename and repeated names get a numeric
// suffix.
func AttachmentNames(names []string) []string {
	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = uniqueName(SafeFilename(n), used)
		used[out[i]] = true
	}
	return out
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := stem + "-" + strconv.Itoa(n) + ext
		if !used[candidate] {
			return candidate
		}
	}
}

// All returns every stored post, newest first. Posts with the same date are
// ordered by slug.
func (s *Store) All() ([]*Post, error) {
	infos, err := afero.ReadDir(s.fs, s.postsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []*Post{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.postsDir, err)
	}

	posts := make([]*Post, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Ext) {
			continue
		}

		p, err := s.BySlug(strings.TrimSuffix(info.Name(), Ext))
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	Sort(posts)
	return posts, nil
}

// Sort orders posts newest first, breaking ties by slug.
func Sort(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		ti, tj := posts[i].Meta.Time(), posts[j].Meta.Time()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return posts[i].Slug < posts[j].Slug
	})
}

// BySlug loads the post stored under slug.
func (s *Store) BySlug(slug string) (*Post, error) {
	if err := checkSlug(slug); err != nil {
		return nil, err
	}

	src, err := afero.ReadFile(s.fs, s.PostPath(slug))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.PostPath(slug), err)
	}

	return Decode(slug, src)
}

// ByMessageID finds the post created from the message with the given id.
// Post files that cannot be decoded are skipped.
func (s *Store) ByMessageID(id string) (*Post, error) {
	infos, err := afero.ReadDir(s.fs, s.postsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.postsDir, err)
	}

	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Ext) {
			continue
		}

		p, err := s.BySlug(strings.TrimSuffix(info.Name(), Ext))
		if err != nil {
			s.logger.Warn("skipping unreadable post",
				zap.String("file", info.Name()),
				zap.Error(err))
			continue
		}
		if p.Meta.MessageID == id {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
}

// writeFileAtomic writes to a temporary file in the destination directory
// and renames it into place.
func writeFileAtomic(fs afero.Fs, name string, data []byte) error {
	dir := filepath.Dir(name)
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(name)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := fs.Chmod(tmpName, 0o644); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", name, err)
	}

	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}

	return nil
}
