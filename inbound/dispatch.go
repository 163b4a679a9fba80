package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v49/github"
	"golang.org/x/oauth2"
)

// DefaultEventType is the repository_dispatch event type sent to GitHub.
const DefaultEventType = "email-received"

// ErrBadRepository is returned when a repository is not in owner/name form.
var ErrBadRepository = errors.New("repository must be in owner/name form")

// ClientPayload is the client_payload of the dispatch event. The workflow
// receiving the event reads the raw message from Email.
type ClientPayload struct {
	Email     string `json:"email"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Timestamp string `json:"timestamp"`
}

// Dispatcher hands an accepted message to the system that publishes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *ClientPayload) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, p *ClientPayload) error

func (f DispatcherFunc) Dispatch(ctx context.Context, p *ClientPayload) error {
	return f(ctx, p)
}

// GitHubDispatcher triggers a repository_dispatch event.
type GitHubDispatcher struct {
	gh        *github.Client
	owner     string
	repo      string
	eventType string
}

// GitHubOption configures a GitHubDispatcher.
type GitHubOption func(d *GitHubDispatcher) error

// WithEventType sets the event type of the dispatch event.
func WithEventType(eventType string) GitHubOption {
	return func(d *GitHubDispatcher) error {
		if eventType != "" {
			d.eventType = eventType
		}
		return nil
	}
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(base string) GitHubOption {
	return func(d *GitHubDispatcher) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		d.gh.BaseURL = u
		return nil
	}
}

// SplitRepository splits "owner/name".
func SplitRepository(repository string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repository), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrBadRepository, repository)
	}
	return owner, name, nil
}

// NewGitHubDispatcher returns a dispatcher for repository ("owner/name")
// authenticating with token.
func NewGitHubDispatcher(
	ctx context.Context,
	token string,
	repository string,
	opts ...GitHubOption,
) (*GitHubDispatcher, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	d := &GitHubDispatcher{
		gh:        github.NewClient(tc),
		owner:     owner,
		repo:      name,
		eventType: DefaultEventType,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Dispatch sends the event. Any 2xx response is a success.
func (d *GitHubDispatcher) Dispatch(ctx context.Context, p *ClientPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode client payload: %w", err)
	}
	payload := json.RawMessage(raw)

	_, _, err = d.gh.Repositories.Dispatch(ctx, d.owner, d.repo, github.DispatchRequestOptions{
		EventType:     d.eventType,
		ClientPayload: &payload,
	})
	if err != nil {
		return fmt.Errorf("repository dispatch to %s/%s: %w", d.owner, d.repo, err)
	}
	return nil
}
