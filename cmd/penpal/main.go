package main

import (
	"github.com/spf13/cobra"

	"github.com/byamadeus/penpal/cmd/penpal/cmd"
)

func main() {
	err := cmd.Execute()
	cobra.CheckErr(err)
}
