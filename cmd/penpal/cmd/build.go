package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/byamadeus/penpal/site"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Render the static site",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringP("output", "o", site.DefaultOutputDir, "directory to write the site to")
	f.Bool("watch", false, "rebuild whenever a post changes")
	f.Duration("debounce", site.DefaultDebounce, "how long to wait for changes to settle in watch mode")
	rootCmd.AddCommand(buildCmd)

	commandFlagKeys[buildCmd.Name()] = map[string]string{
		"output": "site.output",
	}
}

func runBuild(cmd *cobra.Command, _ []string) error {
	s := site.New(newStore(),
		site.WithOutput(afero.NewOsFs(), cfg.Site.Output),
		site.WithInfo(site.Info{
			Title:       cfg.Site.Title,
			Description: cfg.Site.Description,
			Base:        cfg.Site.Base,
			Version:     displayVersion(Version),
		}),
		site.WithWorkers(cfg.Site.Workers),
		site.WithLogger(logger.Named("site")))

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return s.Watch(ctx, debounce)
	}

	res, err := s.Build(cmd.Context())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Built %d posts (%d attachments) into %s\n",
		res.Posts, res.Attachments, s.OutputDir())
	return err
}
