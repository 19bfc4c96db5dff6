package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/loader"
	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/presenter"
	"github.com/jingkaihe/myllm/pkg/runtime"
	"github.com/jingkaihe/myllm/pkg/sessions"
	"github.com/jingkaihe/myllm/pkg/types/llm"
)

var runCmd = &cobra.Command{
	Use:   "run [model]",
	Short: "Chat with a model interactively",
	Long: `Start an interactive chat with a local model. The conversation is kept
in a session so the model sees prior turns. Exit with Ctrl+D or /bye.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			presenter.Error(err, "invalid configuration")
			os.Exit(1)
		}
		if err := runChat(cmd, settings, args[0]); err != nil {
			presenter.Error(err, "chat failed")
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().Float64("temperature", 0, "Sampling temperature (overrides config)")
	runCmd.Flags().Int("max-tokens", 0, "Maximum tokens per reply (overrides config)")
	runCmd.Flags().String("system", "", "System prompt for the conversation")
}

func runChat(cmd *cobra.Command, settings *config.Settings, modelName string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := settings.EnsureDirs(); err != nil {
		return err
	}

	registry, err := models.NewRegistry(settings.ModelsDir)
	if err != nil {
		return err
	}
	if _, err := registry.Get(modelName); err != nil {
		return err
	}

	store, err := sessions.Open(ctx, settings.DBPath,
		sessions.WithMaxMessages(settings.MaxSessionMessages))
	if err != nil {
		return err
	}
	defer store.Close()

	cache := loader.New(settings.MaxLoadedModels, runtime.EngineLoader(settings, registry))
	defer func() {
		if err := cache.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close engine cache")
		}
	}()

	rt := runtime.New(settings, registry, cache, store)

	opts := chatOptionsFromFlags(cmd)
	system, _ := cmd.Flags().GetString("system")

	presenter.Info(fmt.Sprintf("Loading %s...", modelName))
	if err := cache.Preload(ctx, modelName); err != nil {
		return err
	}
	presenter.Success("Ready. Type a message, /bye to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sessionID string
	firstTurn := true
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/bye", "/exit":
			return nil
		case "/clear":
			sessionID = ""
			firstTurn = true
			presenter.Info("Conversation cleared")
			continue
		case "/help":
			presenter.Info("/bye or /exit to quit, /clear to start a fresh conversation")
			continue
		}

		messages := make([]llm.Message, 0, 2)
		if firstTurn && system != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: line})

		stream, err := rt.Chat(ctx, runtime.ChatRequest{
			Model:     modelName,
			Messages:  messages,
			SessionID: sessionID,
			Options:   opts,
		})
		if err != nil {
			presenter.Error(err, "request failed")
			continue
		}
		sessionID = stream.SessionID
		firstTurn = false

		for token := range stream.Tokens {
			fmt.Print(token)
		}
		fmt.Println()

		result, ok := <-stream.Result
		if !ok {
			// Interrupted mid-stream; bail out of the loop.
			return ctx.Err()
		}
		if result.Err != nil {
			presenter.Error(result.Err, "generation failed")
		}
	}
}

func chatOptionsFromFlags(cmd *cobra.Command) *llm.Options {
	opts := &llm.Options{}
	changed := false

	if cmd.Flags().Changed("temperature") {
		if temp, err := cmd.Flags().GetFloat64("temperature"); err == nil {
			opts.Temperature = &temp
			changed = true
		}
	}
	if cmd.Flags().Changed("max-tokens") {
		if n, err := cmd.Flags().GetInt("max-tokens"); err == nil {
			opts.MaxTokens = &n
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return opts
}
