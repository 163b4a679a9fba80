// Package publish records new posts in the git repository holding the blog,
// optionally pushing them so a hosted build picks them up.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// ErrNothingToCommit is returned by Commit when none of the added files
// differ from HEAD.
var ErrNothingToCommit = errors.New("nothing to commit")

// Defaults used for anything left blank in Config.
const (
	DefaultRemote      = "origin"
	DefaultAuthorName  = "penpal"
	DefaultAuthorEmail = "penpal@users.noreply.github.com"

	// TokenUser is the user name paired with a token for HTTPS pushes to
	// GitHub.
	TokenUser = "x-access-token"
)

// Config describes the repository and how to push to it.
type Config struct {
	// Dir is the root of the working copy.
	Dir string

	// Remote is the remote to push to.
	Remote string

	// Branch is the branch to push. When empty the remote's configured
	// push refspecs are used.
	Branch string

	AuthorName  string
	AuthorEmail string

	// Token authenticates HTTPS pushes. No authentication is sent when it
	// is empty.
	Token string

	// AutoPush enables pushing after each commit made by Publish.
	AutoPush bool
}

// BranchRefSpec is the refspec pushing Branch to the same name on the remote.
func (c *Config) BranchRefSpec() config.RefSpec {
	r := plumbing.NewBranchReferenceName(c.Branch).String()
	return config.RefSpec(strings.Join([]string{r, r}, ":"))
}

// Publisher commits files to a working copy and pushes them.
type Publisher struct {
	Config

	repo   *git.Repository
	wc     *git.Worktree
	now    func() time.Time
	logger *zap.Logger

	addFiles []string
}

// Open prepares a publisher for the working copy at cfg.Dir.
func Open(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Remote == "" {
		cfg.Remote = DefaultRemote
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = DefaultAuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = DefaultAuthorEmail
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Dir, err)
	}
	cfg.Dir = dir

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to open git repository at %s: %w", dir, err)
	}

	wc, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("unable to examine the working copy: %w", err)
	}

	return &Publisher{
		Config: cfg,
		repo:   repo,
		wc:     wc,
		now:    time.Now,
		logger: logger,
	}, nil
}

// ToAdd queues a file for the next commit. The name may be absolute or
// relative to the current directory; it must be inside the working copy.
func (p *Publisher) ToAdd(fn string) error {
	abs, err := filepath.Abs(fn)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", fn, err)
	}

	rel, err := filepath.Rel(p.Dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s is outside the working copy %s", fn, p.Dir)
	}

	p.addFiles = append(p.addFiles, filepath.ToSlash(rel))
	return nil
}

// Commit stages the queued files and commits them with msg.
func (p *Publisher) Commit(msg string) (plumbing.Hash, error) {
	files := p.addFiles
	p.addFiles = nil

	for _, fn := range files {
		if _, err := p.wc.Add(fn); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("unable to add %s: %w", fn, err)
		}
	}

	st, err := p.wc.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("unable to read status: %w", err)
	}
	if !staged(st) {
		return plumbing.ZeroHash, ErrNothingToCommit
	}

	h, err := p.wc.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.AuthorName,
			Email: p.AuthorEmail,
			When:  p.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("unable to commit: %w", err)
	}

	p.logger.Info("committed",
		zap.String("commit", h.String()),
		zap.String("message", msg),
		zap.Int("files", len(files)))

	return h, nil
}

func staged(st git.Status) bool {
	for _, fs := range st {
		switch fs.Staging {
		case git.Unmodified, git.Untracked:
		default:
			return true
		}
	}
	return false
}

// Push sends the current branch to the remote. A remote that is already up
// to date is not an error.
func (p *Publisher) Push(ctx context.Context) error {
	opts := &git.PushOptions{RemoteName: p.Remote}
	if p.Branch != "" {
		opts.RefSpecs = []config.RefSpec{p.BranchRefSpec()}
	}
	if p.Token != "" {
		opts.Auth = &http.BasicAuth{Username: TokenUser, Password: p.Token}
	}

	err := p.repo.PushContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	} else if err != nil {
		return fmt.Errorf("unable to push to %s: %w", p.Remote, err)
	}

	p.logger.Info("pushed", zap.String("remote", p.Remote), zap.String("branch", p.Branch))
	return nil
}

// Publish commits the given files with msg and pushes when the publisher is
// configured to. Nothing happens when none of the files changed.
func (p *Publisher) Publish(ctx context.Context, msg string, files []string) error {
	for _, fn := range files {
		if err := p.ToAdd(fn); err != nil {
			return err
		}
	}

	_, err := p.Commit(msg)
	if errors.Is(err, ErrNothingToCommit) {
		p.logger.Info("nothing to publish")
		return nil
	} else if err != nil {
		return err
	}

	if !p.AutoPush {
		return nil
	}
	return p.Push(ctx)
}

// CommitMessage is the commit message used for a new post.
func CommitMessage(title string) string {
	return "post: " + title
}
