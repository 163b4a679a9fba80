// Package config loads penpal's settings from a config file, the environment
// and command line flags, and checks them before anything runs.
//
// Keys are dotted (site.title, github.repo). Every key can be set from the
// environment as PENPAL_ followed by the key in upper case with dots turned
// into underscores. The secret, GitHub token and repository are also read
// from EMAIL_SECRET_TOKEN, GITHUB_TOKEN and GITHUB_REPO.
package config

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/byamadeus/penpal/inbound"
	"github.com/byamadeus/penpal/post"
	"github.com/byamadeus/penpal/publish"
	"github.com/byamadeus/penpal/site"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "PENPAL"

// Config is the complete configuration.
type Config struct {
	Content Content `mapstructure:"content"`
	Site    Site    `mapstructure:"site"`
	Email   Email   `mapstructure:"email"`
	GitHub  GitHub  `mapstructure:"github"`
	Serve   Serve   `mapstructure:"serve"`
	Publish Publish `mapstructure:"publish"`
	Log     Log     `mapstructure:"log"`
}

// Content locates the post store.
type Content struct {
	PostsDir       string `mapstructure:"posts_dir"`
	AttachmentsDir string `mapstructure:"attachments_dir"`
}

// Site configures the static site.
type Site struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Base        string `mapstructure:"base"`
	Output      string `mapstructure:"output"`
	Workers     int    `mapstructure:"workers"`
}

// Email configures the token check and message limits.
type Email struct {
	Secret   string `mapstructure:"secret"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// GitHub configures the dispatch event sent for accepted messages.
type GitHub struct {
	Token     string `mapstructure:"token"`
	Repo      string `mapstructure:"repo"`
	EventType string `mapstructure:"event_type"`
	BaseURL   string `mapstructure:"base_url"`
}

// Serve configures the listeners of the edge receiver. An empty address
// disables that listener.
type Serve struct {
	HTTPAddr   string `mapstructure:"http_addr"`
	SMTPAddr   string `mapstructure:"smtp_addr"`
	SMTPDomain string `mapstructure:"smtp_domain"`
}

// Publish configures committing new posts.
type Publish struct {
	Commit      bool   `mapstructure:"commit"`
	Push        bool   `mapstructure:"push"`
	Dir         string `mapstructure:"dir"`
	Remote      string `mapstructure:"remote"`
	Branch      string `mapstructure:"branch"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default of every key on v. Keys unknown to v
// are invisible to the environment, so this must run before Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("content.posts_dir", post.DefaultPostsDir)
	v.SetDefault("content.attachments_dir", post.DefaultAttachmentsDir)

	v.SetDefault("site.title", site.DefaultInfo.Title)
	v.SetDefault("site.description", site.DefaultInfo.Description)
	v.SetDefault("site.base", site.DefaultInfo.Base)
	v.SetDefault("site.output", site.DefaultOutputDir)
	v.SetDefault("site.workers", 4)

	v.SetDefault("email.secret", "")
	v.SetDefault("email.max_bytes", inbound.DefaultMaxMessageBytes)

	v.SetDefault("github.token", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.event_type", inbound.DefaultEventType)
	v.SetDefault("github.base_url", "")

	v.SetDefault("serve.http_addr", ":8080")
	v.SetDefault("serve.smtp_addr", "")
	v.SetDefault("serve.smtp_domain", "localhost")

	v.SetDefault("publish.commit", false)
	v.SetDefault("publish.push", false)
	v.SetDefault("publish.dir", ".")
	v.SetDefault("publish.remote", publish.DefaultRemote)
	v.SetDefault("publish.branch", "")
	v.SetDefault("publish.author_name", publish.DefaultAuthorName)
	v.SetDefault("publish.author_email", publish.DefaultAuthorEmail)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// BindEnv makes v read the environment.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"email.secret": {"PENPAL_EMAIL_SECRET", "EMAIL_SECRET_TOKEN"},
		"github.token": {"PENPAL_GITHUB_TOKEN", "GITHUB_TOKEN"},
		"github.repo":  {"PENPAL_GITHUB_REPO", "GITHUB_REPO"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings in
// place.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Content),
		validation.Field(&c.Site),
		validation.Field(&c.Email),
		validation.Field(&c.GitHub),
		validation.Field(&c.Publish),
		validation.Field(&c.Log),
	)
}

// ValidateServe checks the extra settings the edge receiver needs.
func (c *Config) ValidateServe() error {
	err := validation.Errors{
		"email.secret": validation.Validate(c.Email.Secret, validation.Required),
		"github.token": validation.Validate(c.GitHub.Token, validation.Required),
		"github.repo":  validation.Validate(c.GitHub.Repo, validation.Required),
		"serve": validation.Validate(c.Serve.HTTPAddr+c.Serve.SMTPAddr,
			validation.Required.Error("at least one of http_addr and smtp_addr must be set")),
	}.Filter()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Content) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PostsDir, validation.Required),
		validation.Field(&c.AttachmentsDir, validation.Required),
	)
}

func (s Site) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Output, validation.Required),
		validation.Field(&s.Workers, validation.Required, validation.Min(1)),
	)
}

func (e Email) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MaxBytes, validation.Required, validation.Min(int64(1))),
	)
}

var repoPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

func (g GitHub) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.Repo, validation.Match(repoPattern).Error("must be in owner/name form")),
		validation.Field(&g.EventType, validation.Required),
		validation.Field(&g.BaseURL, is.URL),
	)
}

func (p Publish) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Dir, validation.Required),
		validation.Field(&p.Remote, validation.Required),
		validation.Field(&p.Push, validation.When(p.Push, validation.By(func(any) error {
			if !p.Commit {
				return validation.NewError("config.publish.push_without_commit", "push requires commit")
			}
			return nil
		}))),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.Required, validation.In("console", "json")),
	)
}

// Logger builds the logger described by l.
func (l Log) Logger() (*zap.Logger, error) {
	var zc zap.Config
	if l.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
