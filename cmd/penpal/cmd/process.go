package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/byamadeus/penpal/pipeline"
	"github.com/byamadeus/penpal/publish"
)

var processCmd = &cobra.Command{
	Use:   "process [message.eml]",
	Short: "Store one email as a post",
	Long: `Parses an email and stores it as a Markdown post with its attachments,
recording it in its thread when it is a reply.

The message is read from the named file, from standard input when the file is
"-" or missing, or from the client_payload of a GitHub repository_dispatch
event file when --event is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.String("event", "", "GitHub event file to read the message from (usually $GITHUB_EVENT_PATH)")
	f.Bool("commit", false, "commit the new files to the git working copy")
	f.Bool("push", false, "push after committing")
	rootCmd.AddCommand(processCmd)

	commandFlagKeys[processCmd.Name()] = map[string]string{
		"commit": "publish.commit",
		"push":   "publish.push",
	}
}

func readMessage(cmd *cobra.Command, args []string) ([]byte, error) {
	if event, _ := cmd.Flags().GetString("event"); event != "" {
		f, err := os.Open(event)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return pipeline.ReadEvent(f)
	}

	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func runProcess(cmd *cobra.Command, args []string) error {
	raw, err := readMessage(cmd, args)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithSecret(cfg.Email.Secret),
		pipeline.WithLogger(logger.Named("pipeline")),
	}

	if cfg.Publish.Commit {
		pub, err := publish.Open(publish.Config{
			Dir:         cfg.Publish.Dir,
			Remote:      cfg.Publish.Remote,
			Branch:      cfg.Publish.Branch,
			AuthorName:  cfg.Publish.AuthorName,
			AuthorEmail: cfg.Publish.AuthorEmail,
			Token:       cfg.GitHub.Token,
			AutoPush:    cfg.Publish.Push,
		}, logger.Named("publish"))
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithPublisher(pub))
	}

	res, err := pipeline.New(newStore(), opts...).Process(cmd.Context(), raw)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created post %q at %s\n", res.Title, res.Path)
	return err
}
