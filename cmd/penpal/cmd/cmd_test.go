package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMsg = "From: Author <author@example.com>\n" +
	"Subject: [TOKEN-s3cret] Hello From The CLI\n" +
	"Date: Wed, 03 Jul 2024 12:00:00 +0000\n" +
	"Message-ID: <cli@example.com>\n" +
	"\n" +
	"Posted from a test.\n"

func run(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestDisplayVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", displayVersion("1.2.3"))
	assert.Equal(t, "v1.2.3", displayVersion("v1.2.3"))
	assert.Equal(t, "v1.0.0-rc.1", displayVersion("1.0.0-rc.1"))
	assert.Equal(t, "dev", displayVersion("dev"))
}

func TestVersion(t *testing.T) {
	out := run(t, "version")
	assert.Equal(t, "penpal "+displayVersion(Version)+"\n", out)
}

func TestProcessAndBuild(t *testing.T) {
	t.Setenv("EMAIL_SECRET_TOKEN", "s3cret")
	t.Setenv("PENPAL_EMAIL_SECRET", "")

	dir := t.TempDir()
	eml := filepath.Join(dir, "message.eml")
	require.NoError(t, os.WriteFile(eml, []byte(testMsg), 0o644))

	common := []string{
		"--posts-dir", filepath.Join(dir, "content", "posts"),
		"--attachments-dir", filepath.Join(dir, "public", "attachments"),
		"--log-level", "error",
	}

	out := run(t, append([]string{"process", eml}, common...)...)
	assert.Contains(t, out, `Created post "Hello From The CLI"`)

	_, err := os.Stat(filepath.Join(dir, "content", "posts", "hello-from-the-cli.md"))
	require.NoError(t, err)

	site := filepath.Join(dir, "dist")
	out = run(t, append([]string{"build", "--output", site}, common...)...)
	assert.Contains(t, out, "Built 1 posts")

	index, err := os.ReadFile(filepath.Join(site, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "Hello From The CLI")

	page, err := os.ReadFile(filepath.Join(site, "post", "hello-from-the-cli", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "Posted from a test.")
}
