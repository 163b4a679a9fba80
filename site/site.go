// Package site renders the stored posts into a static website: a listing
// page, one page per post with its attachments and series navigation, and a
// not-found page. Attachments are copied next to the pages that reference
// them.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byamadeus/penpal/post"
)

// DefaultOutputDir is where the site is written unless configured otherwise.
const DefaultOutputDir = "dist"

// ErrUnsafeOutput is returned when the output directory would cover the
// working tree or the post store.
var ErrUnsafeOutput = errors.New("unsafe output directory")

// Info describes the site as a whole.
type Info struct {
	Title       string
	Description string

	// Base is the URL path the site is served from. It always ends in a
	// slash.
	Base string

	Version string
}

// DefaultInfo is used for anything left blank in the configured Info.
var DefaultInfo = Info{
	Title:       "Email Blog",
	Description: "A blog powered by email",
	Base:        "/",
	Version:     "dev",
}

// Site builds the static site from a post store.
type Site struct {
	store   *post.Store
	out     afero.Fs
	outDir  string
	info    Info
	workers int
	md      *Markdown
	logger  *zap.Logger
}

// Option configures a Site.
type Option func(s *Site)

// WithOutput sets the file system and directory the site is written to. The
// store's file system is used by default.
func WithOutput(fs afero.Fs, dir string) Option {
	return func(s *Site) {
		s.out = fs
		s.outDir = dir
	}
}

// WithInfo sets the site title, description and base path.
func WithInfo(info Info) Option {
	return func(s *Site) { s.info = info }
}

// WithWorkers limits how many pages are rendered at once.
func WithWorkers(n int) Option {
	return func(s *Site) { s.workers = n }
}

// WithLogger attaches a logger to the site.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Site) { s.logger = logger }
}

// New returns a Site rendering the posts in store.
func New(store *post.Store, opts ...Option) *Site {
	s := &Site{
		store:   store,
		out:     store.Fs(),
		outDir:  DefaultOutputDir,
		workers: runtime.GOMAXPROCS(0),
		md:      NewMarkdown(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.info.Title == "" {
		s.info.Title = DefaultInfo.Title
	}
	if s.info.Description == "" {
		s.info.Description = DefaultInfo.Description
	}
	if s.info.Version == "" {
		s.info.Version = DefaultInfo.Version
	}
	s.info.Base = normalizeBase(s.info.Base)
	if s.workers < 1 {
		s.workers = 1
	}

	return s
}

func normalizeBase(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return "/"
	}
	return "/" + base + "/"
}

// OutputDir returns the directory the site is written to.
func (s *Site) OutputDir() string { return s.outDir }

// Result summarizes a build.
type Result struct {
	Posts       int
	Attachments int
}

// Build renders the whole site, replacing whatever was in the output
// directory.
func (s *Site) Build(ctx context.Context) (*Result, error) {
	if err := s.checkOutput(); err != nil {
		return nil, err
	}

	posts, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}

	if err := s.out.RemoveAll(s.outDir); err != nil {
		return nil, fmt.Errorf("clean %s: %w", s.outDir, err)
	}
	if err := s.out.MkdirAll(s.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.outDir, err)
	}

	if err := s.writePage("index.html", "index.html", s.indexData(posts)); err != nil {
		return nil, err
	}
	if err := s.writePage("404.html", "404.html", &pageData{Site: s.info, Title: "Not Found"}); err != nil {
		return nil, err
	}

	bySlug := make(map[string]*post.Post, len(posts))
	for _, p := range posts {
		bySlug[p.Slug] = p
	}

	copied := make([]int, len(posts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range posts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := s.postData(p, bySlug)
			if err != nil {
				return err
			}

			name := filepath.Join("post", p.Slug, "index.html")
			if err := s.writePage(name, "post.html", data); err != nil {
				return err
			}

			n, err := s.copyAttachments(p.Slug)
			copied[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Posts: len(posts)}
	for _, n := range copied {
		res.Attachments += n
	}

	s.logger.Info("site built",
		zap.String("output", s.outDir),
		zap.Int("posts", res.Posts),
		zap.Int("attachments", res.Attachments))

	return res, nil
}

func (s *Site) checkOutput() error {
	if c := filepath.Clean(s.outDir); s.outDir == "" || c == "." || c == string(filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrUnsafeOutput, s.outDir)
	}

	out, err := filepath.Abs(s.outDir)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsafeOutput, s.outDir, err)
	}
	if cwd, err := filepath.Abs("."); err != nil || out == cwd || out == filepath.Dir(out) {
		return fmt.Errorf("%w: %q", ErrUnsafeOutput, s.outDir)
	}

	for _, dir := range []string{s.store.PostsDir(), s.store.AttachmentsDir()} {
		if within(out, dir) {
			return fmt.Errorf("%w: %q contains %q", ErrUnsafeOutput, s.outDir, dir)
		}
	}

	return nil
}

// within reports whether dir is parent or lies below it. Paths that cannot be
// compared count as inside.
func within(parent, dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return true
	}

	rel, err := filepath.Rel(parent, abs)
	if err != nil {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Site) writePage(name, tmpl string, data *pageData) error {
	var buf bytes.Buffer
	if err := render(&buf, tmpl, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	p := filepath.Join(s.outDir, name)
	if err := s.out.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(p), err)
	}
	if err := afero.WriteFile(s.out, p, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}

	s.logger.Debug("page written", zap.String("path", p))
	return nil
}

// copyAttachments copies the attachment directory of slug into the output.
func (s *Site) copyAttachments(slug string) (int, error) {
	src := s.store.AttachmentDir(slug)
	infos, err := afero.ReadDir(s.store.Fs(), src)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("list %s: %w", src, err)
	}

	dst := filepath.Join(s.outDir, "attachments", slug)
	if err := s.out.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	n := 0
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		if err := copyFile(s.store.Fs(), filepath.Join(src, info.Name()), s.out, filepath.Join(dst, info.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	in, err := srcFs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

// Render writes the page for a single post to w. It is the same page Build
// writes to post/<slug>/index.html.
func (s *Site) Render(w io.Writer, slug string) error {
	p, err := s.store.BySlug(slug)
	if err != nil {
		return err
	}

	data, err := s.postData(p, nil)
	if err != nil {
		return err
	}
	return render(w, "post.html", data)
}
