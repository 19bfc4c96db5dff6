package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/presenter"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed models",
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			presenter.Error(err, "invalid configuration")
			os.Exit(1)
		}

		registry, err := models.NewRegistry(settings.ModelsDir)
		if err != nil {
			presenter.Error(err, "failed to scan models directory")
			os.Exit(1)
		}

		installed := registry.List()
		if len(installed) == 0 {
			presenter.Info("No models installed. Try: myllm pull --list")
			return
		}

		presenter.Section("Installed models")
		for _, info := range installed {
			presenter.Info(fmt.Sprintf("%-16s %-10s ctx %-6d %6.1f GiB",
				info.Name, info.Family, info.ContextSize,
				float64(info.SizeBytes)/(1<<30)))
		}
	},
}
