package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/catalog"
	"github.com/jingkaihe/myllm/pkg/presenter"
)

var removeCmd = &cobra.Command{
	Use:   "remove [model]",
	Short: "Delete a model from the models directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			presenter.Error(err, "invalid configuration")
			os.Exit(1)
		}

		name := args[0]
		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirmRemoval(name) {
			presenter.Info("Aborted")
			return
		}

		if err := catalog.Remove(settings.ModelsDir, name); err != nil {
			presenter.Error(err, "remove failed")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("%s removed", name))
	},
}

func init() {
	removeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
}

func confirmRemoval(name string) bool {
	fmt.Printf("Delete %s and its weights? [y/N]: ", name)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
