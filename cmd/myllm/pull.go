package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/catalog"
	"github.com/jingkaihe/myllm/pkg/presenter"
)

var pullCmd = &cobra.Command{
	Use:   "pull [model]",
	Short: "Download a model from the catalog",
	Long: `Download a model's GGUF weights from Hugging Face into the models
directory. Use --list to see what is available.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if list, _ := cmd.Flags().GetBool("list"); list {
			printCatalog()
			return
		}
		if len(args) != 1 {
			presenter.Error(fmt.Errorf("model name required"), "usage: myllm pull <model>")
			os.Exit(1)
		}

		settings, err := loadSettings(cmd)
		if err != nil {
			presenter.Error(err, "invalid configuration")
			os.Exit(1)
		}
		if err := runPull(cmd, settings.ModelsDir, args[0]); err != nil {
			presenter.Error(err, "pull failed")
			os.Exit(1)
		}
	},
}

func init() {
	pullCmd.Flags().Bool("list", false, "List downloadable models and exit")
}

func printCatalog() {
	presenter.Section("Available models")
	for _, e := range catalog.Entries() {
		presenter.Info(fmt.Sprintf("%-16s %-10s ctx %-6d ~%d GiB  %s",
			e.Name, e.Family, e.ContextSize, e.SizeBytes>>30, e.Description))
	}
}

func runPull(cmd *cobra.Command, modelsDir, name string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := catalog.NewDownloader(modelsDir)

	presenter.Info(fmt.Sprintf("Pulling %s...", name))
	var lastPercent int64 = -1
	err := d.Pull(ctx, name, func(done, total int64) {
		if total <= 0 {
			return
		}
		percent := done * 100 / total
		if percent != lastPercent {
			lastPercent = percent
			fmt.Fprintf(os.Stderr, "\r%3d%% (%d/%d MiB)", percent, done>>20, total>>20)
		}
	})
	if lastPercent >= 0 {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	presenter.Success(fmt.Sprintf("%s installed", name))
	return nil
}
