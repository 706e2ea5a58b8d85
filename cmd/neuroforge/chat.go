package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"neuroforge/internal/usecase"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the training orchestrator",
	Long: `Opens an interactive chat with the orchestrator running on the training service.
Type /new to start a fresh conversation and /quit to leave.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()

	chat := usecase.NewChatUseCase(a.client, clockwork.NewRealClock(), a.cfg.Chat.HistoryLimit, a.log)
	printAssistant := func(text string) { fmt.Fprintf(out, "neuroforge> %s\n\n", text) }
	printAssistant(chat.History()[0].Content)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "you> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			chat.Reset()
			printAssistant(usecase.ChatNewRun)
			continue
		}

		reply, err := chat.SendMessage(ctx, line)
		if err != nil {
			a.log.Debug().Err(err).Msg("chat message failed")
		}
		printAssistant(reply)
	}
}
