package main

import (
	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/presenter"
	"github.com/jingkaihe/myllm/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		presenter.Info(version.Get())
	},
}
