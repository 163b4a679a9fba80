package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ThreadEntry is one member of a thread.
type ThreadEntry struct {
	Slug      string `json:"slug"`
	Position  int    `json:"position"`
	MessageID string `json:"messageId"`
}

// Thread is the index of posts belonging to one email thread, in the order
// they joined it.
type Thread struct {
	ThreadID string        `json:"threadId"`
	Posts    []ThreadEntry `json:"posts"`
}

// Position returns the 1-based position of slug in the thread, or 0 when the
// slug is not a member.
func (t *Thread) Position(slug string) int {
	for _, p := range t.Posts {
		if p.Slug == slug {
			return p.Position
		}
	}
	return 0
}

// Has reports whether the message id is already part of the thread.
func (t *Thread) Has(messageID string) bool {
	for _, p := range t.Posts {
		if p.MessageID == messageID {
			return true
		}
	}
	return false
}

// add appends a member unless its message id is already present. It reports
// whether the thread changed.
func (t *Thread) add(slug, messageID string) bool {
	if t.Has(messageID) {
		return false
	}
	t.Posts = append(t.Posts, ThreadEntry{
		Slug:      slug,
		Position:  len(t.Posts) + 1,
		MessageID: messageID,
	})
	return true
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._@+-]+`)

// ThreadKey turns a thread id (usually a bracketed Message-ID) into a string
// that is safe to use in a file name.
func ThreadKey(threadID string) string {
	k := strings.TrimSpace(threadID)
	k = strings.TrimPrefix(k, "<")
	k = strings.TrimSuffix(k, ">")
	k = unsafeKeyChars.ReplaceAllString(k, "-")
	k = strings.Trim(k, ".-")
	if k == "" {
		k = "unknown"
	}
	return k
}

// ThreadPath returns the path of the index file for threadID.
func (s *Store) ThreadPath(threadID string) string {
	return filepath.Join(s.postsDir, "thread-"+ThreadKey(threadID)+".meta.json")
}

// Thread loads the index for threadID. It returns nil, nil when the thread
// has no index yet, and ErrThreadConflict when the index file was written
// for a different id with the same key.
func (s *Store) Thread(threadID string) (*Thread, error) {
	src, err := afero.ReadFile(s.fs, s.ThreadPath(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}

	t := &Thread{}
	if err := json.Unmarshal(src, t); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	if strings.TrimSpace(t.ThreadID) != strings.TrimSpace(threadID) {
		return nil, fmt.Errorf("%w: %s is indexed as %s", ErrThreadConflict, threadID, t.ThreadID)
	}
	return t, nil
}

// UpdateThread adds the post to the thread index, creating the index if
// needed. Adding a message id that is already a member changes nothing. The
// returned bool reports whether the index file was written.
func (s *Store) UpdateThread(threadID, slug, messageID string) (*Thread, bool, error) {
	return s.updateThread(threadID, nil, slug, messageID)
}

// StartThread is UpdateThread for a thread that may not have an index yet and
// whose root post is already stored. When the index is created, the root is
// recorded first so the series starts at the beginning of the conversation.
func (s *Store) StartThread(threadID string, root *Post, slug, messageID string) (*Thread, bool, error) {
	return s.updateThread(threadID, root, slug, messageID)
}

func (s *Store) updateThread(threadID string, root *Post, slug, messageID string) (*Thread, bool, error) {
	if err := s.ensureDirectories(); err != nil {
		return nil, false, err
	}

	t, err := s.Thread(threadID)
	if err != nil {
		return nil, false, err
	}

	changed := false
	if t == nil {
		t = &Thread{ThreadID: threadID, Posts: []ThreadEntry{}}
		if root != nil {
			t.add(root.Slug, root.Meta.MessageID)
		}
		changed = true
	}

	if t.add(slug, messageID) {
		changed = true
	}

	if !changed {
		return t, false, nil
	}

	src, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("encode thread %s: %w", threadID, err)
	}

	if err := writeFileAtomic(s.fs, s.ThreadPath(threadID), src); err != nil {
		return nil, false, err
	}

	s.logger.Info("thread index updated",
		zap.String("thread", threadID),
		zap.Int("posts", len(t.Posts)))

	return t, true, nil
}

// ThreadFor returns the thread a post belongs to. A post that carries a
// thread id uses that thread; a post without one may still be the root of a
// thread keyed by its own message id. It returns nil when the post is not
// part of any thread.
func (s *Store) ThreadFor(p *Post) (*Thread, error) {
	if p.Meta.ThreadID != "" {
		return s.Thread(p.Meta.ThreadID)
	}
	if p.Meta.MessageID == "" {
		return nil, nil
	}

	t, err := s.Thread(p.Meta.MessageID)
	if err != nil || t == nil {
		return nil, err
	}
	if t.Position(p.Slug) == 0 {
		return nil, nil
	}
	return t, nil
}
