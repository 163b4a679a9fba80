package site_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/byamadeus/penpal/post"
	"github.com/byamadeus/penpal/site"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func save(t *testing.T, s *post.Store, slug string, meta post.Meta, body string) string {
	t.Helper()

	src, err := post.Encode(&meta, body)
	require.NoError(t, err)

	final, err := s.Save(slug, src)
	require.NoError(t, err)
	return final
}

func read(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()

	b, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	return string(b)
}

// seed stores a two part thread with an attachment and one standalone post.
func seed(t *testing.T) *post.Store {
	t.Helper()

	s := post.NewStore(afero.NewMemMapFs())

	root := save(t, s, "first-light", post.Meta{
		Title:     "First Light",
		Date:      "2024-01-10",
		MessageID: "<root@example.com>",
	}, "The **first** post.\n\n<script>alert(1)</script>\n")

	reply := save(t, s, "second-light", post.Meta{
		Title:     "Second Light",
		Date:      "2024-01-12",
		MessageID: "<reply@example.com>",
		ThreadID:  "<root@example.com>",
		Attachments: []post.AttachmentMeta{
			{Filename: "sky.png", ContentType: "image/png"},
			{Filename: "notes.pdf", ContentType: "application/pdf"},
		},
	}, "A follow up.\n")

	_, err := s.SaveAttachments(reply, []post.Attachment{
		{Filename: "sky.png", Content: []byte("png")},
		{Filename: "notes.pdf", Content: []byte("pdf")},
	})
	require.NoError(t, err)

	rootPost, err := s.BySlug(root)
	require.NoError(t, err)
	_, _, err = s.StartThread("<root@example.com>", rootPost, reply, "<reply@example.com>")
	require.NoError(t, err)

	save(t, s, "long-story", post.Meta{
		Title:     "Long Story",
		Date:      "2023-12-01",
		MessageID: "<long@example.com>",
	}, strings.Repeat("word ", 60))

	return s
}

func TestBuild(t *testing.T) {
	t.Parallel()

	store := seed(t)
	out := afero.NewMemMapFs()
	s := site.New(store, site.WithOutput(out, "dist"), site.WithInfo(site.Info{Title: "Letters"}))

	res, err := s.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &site.Result{Posts: 3, Attachments: 2}, res)

	index := read(t, out, "dist/index.html")
	assert.Contains(t, index, "<title>Letters</title>")
	assert.Contains(t, index, "3 posts published")
	assert.Contains(t, index, `href="/post/second-light/"`)
	assert.Contains(t, index, "January 12, 2024")
	assert.Contains(t, index, "2 attachments")
	assert.Contains(t, index, "...")

	// Newest first.
	assert.Less(t, strings.Index(index, "Second Light"), strings.Index(index, "First Light"))
	assert.Less(t, strings.Index(index, "First Light"), strings.Index(index, "Long Story"))

	page := read(t, out, "dist/post/first-light/index.html")
	assert.Contains(t, page, "<strong>first</strong>")
	assert.NotContains(t, page, "<script>")
	assert.Contains(t, page, "Part 1 of 2")
	assert.Contains(t, page, `href="/post/second-light/"`)

	reply := read(t, out, "dist/post/second-light/index.html")
	assert.Contains(t, reply, "Part 2 of 2")
	assert.Contains(t, reply, `<img src="/attachments/second-light/sky.png"`)
	assert.Contains(t, reply, `href="/attachments/second-light/notes.pdf" download`)
	assert.Contains(t, reply, "Thread")

	long := read(t, out, "dist/post/long-story/index.html")
	assert.NotContains(t, long, "Post Series")

	assert.Contains(t, read(t, out, "dist/404.html"), "This post doesn't exist yet.")
	assert.Equal(t, "png", read(t, out, "dist/attachments/second-light/sky.png"))
	assert.Equal(t, "pdf", read(t, out, "dist/attachments/second-light/notes.pdf"))
}

func TestBuild_Empty(t *testing.T) {
	t.Parallel()

	out := afero.NewMemMapFs()
	s := site.New(post.NewStore(afero.NewMemMapFs()), site.WithOutput(out, "public-site"))

	res, err := s.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Posts)

	index := read(t, out, "public-site/index.html")
	assert.Contains(t, index, "0 posts published")
	assert.Contains(t, index, "No posts yet")
	assert.Contains(t, index, "[TOKEN-your-token] Post Title")
}

func TestBuild_RemovesStalePages(t *testing.T) {
	t.Parallel()

	store := seed(t)
	out := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(out, "dist/post/gone/index.html", []byte("old"), 0o644))

	_, err := site.New(store, site.WithOutput(out, "dist")).Build(context.Background())
	require.NoError(t, err)

	exists, err := afero.Exists(out, "dist/post/gone/index.html")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuild_UnsafeOutput(t *testing.T) {
	t.Parallel()

	cwd, err := filepath.Abs(".")
	require.NoError(t, err)

	store := post.NewStore(afero.NewMemMapFs())
	for _, dir := range []string{
		"", ".", "/", "content", "public", "./content/", "content/posts",
		cwd, filepath.Join(cwd, "content"), filepath.Join(cwd, "public", "attachments"),
	} {
		_, err := site.New(store, site.WithOutput(store.Fs(), dir)).Build(context.Background())
		assert.ErrorIs(t, err, site.ErrUnsafeOutput, dir)
	}

	for _, dir := range []string{"dist", "..dist", filepath.Join(cwd, "content-site")} {
		_, err := site.New(store, site.WithOutput(afero.NewMemMapFs(), dir)).Build(context.Background())
		assert.NoError(t, err, dir)
	}
}

func TestBuild_AbsoluteOutputKeepsStore(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	fs := afero.NewOsFs()
	store := post.NewStore(fs)
	save(t, store, "keep-me", post.Meta{Title: "Keep Me", Date: "2024-01-01"}, "still here")

	_, err := site.New(store, site.WithOutput(fs, dir)).Build(context.Background())
	require.ErrorIs(t, err, site.ErrUnsafeOutput)

	p, err := store.BySlug("keep-me")
	require.NoError(t, err)
	assert.Equal(t, "Keep Me", p.Meta.Title)
}

func TestBuild_BasePath(t *testing.T) {
	t.Parallel()

	store := seed(t)
	out := afero.NewMemMapFs()
	s := site.New(store, site.WithOutput(out, "dist"), site.WithInfo(site.Info{Base: "blog"}))

	_, err := s.Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, read(t, out, "dist/index.html"), `href="/blog/post/first-light/"`)
}

func TestRender(t *testing.T) {
	t.Parallel()

	s := site.New(seed(t))

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf, "second-light"))
	assert.Contains(t, buf.String(), "A follow up.")

	err := s.Render(&buf, "missing")
	assert.ErrorIs(t, err, post.ErrNotFound)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", site.Preview("  short \n"))

	long := strings.Repeat("é", site.PreviewLength+10)
	p := site.Preview(long)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, site.PreviewLength+3, len([]rune(p)))
}

func TestMarkdown_Render(t *testing.T) {
	t.Parallel()

	md := site.NewMarkdown()
	out, err := md.Render("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n[x](javascript:alert(1))\n")
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<table>")
	assert.NotContains(t, html, "javascript:")
}

func TestWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := afero.NewOsFs()
	store := post.NewStore(fs,
		post.WithPostsDir(filepath.Join(dir, "content", "posts")),
		post.WithAttachmentsDir(filepath.Join(dir, "public", "attachments")))
	save(t, store, "one", post.Meta{Title: "One", Date: "2024-01-01", MessageID: "<1@x>"}, "one")

	outDir := filepath.Join(dir, "dist")
	s := site.New(store, site.WithOutput(fs, outDir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 20*time.Millisecond) }()

	index := filepath.Join(outDir, "index.html")
	assert.Eventually(t, func() bool {
		b, err := afero.ReadFile(fs, index)
		return err == nil && strings.Contains(string(b), "1 post published")
	}, 5*time.Second, 20*time.Millisecond)

	save(t, store, "two", post.Meta{Title: "Two", Date: "2024-01-02", MessageID: "<2@x>"}, "two")

	assert.Eventually(t, func() bool {
		b, err := afero.ReadFile(fs, index)
		return err == nil && strings.Contains(string(b), "2 posts published")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
