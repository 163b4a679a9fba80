package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/byamadeus/penpal/config"
	"github.com/byamadeus/penpal/post"
)

var (
	v      *viper.Viper
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "penpal",
	Short: "A static blog written by email",
	Long: `penpal turns email into blog posts.

Mail sent with [TOKEN-<secret>] at the start of the subject is accepted by
"penpal serve", which triggers a CI run. The CI job runs "penpal process" to
store the message as a Markdown post, and "penpal build" renders the site.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"posts-dir":       "content.posts_dir",
	"attachments-dir": "content.attachments_dir",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./penpal.yaml or ~/.config/penpal/penpal.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("posts-dir", post.DefaultPostsDir, "directory holding posts and thread indexes")
	pf.String("attachments-dir", post.DefaultAttachmentsDir, "directory holding post attachments")
}

func Execute() error {
	return rootCmd.Execute()
}

// bindFlags binds the named flags of fs to configuration keys.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}
	return nil
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	v, err = config.New()
	if err != nil {
		return err
	}

	if err := bindFlags(cmd.Flags(), flagKeys); err != nil {
		return err
	}
	if keys, ok := commandFlagKeys[cmd.Name()]; ok {
		if err := bindFlags(cmd.Flags(), keys); err != nil {
			return err
		}
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("penpal")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "penpal"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	logger, err = cfg.Log.Logger()
	if err != nil {
		return err
	}

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", zap.String("path", used))
	}
	return nil
}

// commandFlagKeys maps the local flags of each subcommand onto configuration
// keys.
var commandFlagKeys = map[string]map[string]string{}

func newStore() *post.Store {
	return post.NewStore(afero.NewOsFs(),
		post.WithPostsDir(cfg.Content.PostsDir),
		post.WithAttachmentsDir(cfg.Content.AttachmentsDir),
		post.WithLogger(logger.Named("store")))
}
