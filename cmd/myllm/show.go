package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/presenter"
)

var showCmd = &cobra.Command{
	Use:   "show [model]",
	Short: "Show details for an installed model",
	Args:  cobra.ExactArgs(1),
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

		info, err := registry.Get(args[0])
		if err != nil {
			presenter.Error(err, "unknown model")
			os.Exit(1)
		}

		presenter.Section(info.Name)
		presenter.Info(fmt.Sprintf("Family:       %s", info.Family))
		presenter.Info(fmt.Sprintf("Template:     %s", info.TemplateName()))
		if info.Quantization != "" {
			presenter.Info(fmt.Sprintf("Quantization: %s", info.Quantization))
		}
		presenter.Info(fmt.Sprintf("Context size: %d", info.ContextSize))
		presenter.Info(fmt.Sprintf("Size:         %.1f GiB", float64(info.SizeBytes)/(1<<30)))
		if len(info.Parameters) > 0 {
			presenter.Section("Parameters")
			for k, v := range info.Parameters {
				presenter.Info(fmt.Sprintf("%s: %v", k, v))
			}
		}
	},
}
