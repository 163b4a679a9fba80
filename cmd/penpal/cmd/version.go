package cmd

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/spf13/cobra"
)

// Version is the release version, set at build time with
// -ldflags "-X github.com/byamadeus/penpal/cmd/penpal/cmd.Version=1.2.3".
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of penpal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "penpal", displayVersion(Version))
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// displayVersion normalizes a semantic version to vX.Y.Z form. Anything that
// is not a semantic version, such as a development build, is shown as is.
func displayVersion(raw string) string {
	sv, err := semver.NewVersion(trimV(raw))
	if err != nil {
		return raw
	}
	return "v" + sv.String()
}

func trimV(s string) string {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}
