package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthstack/hearth/internal/config"
)

func chatCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the local agent (one-shot or interactive)",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(userID, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "owner", "user id for the conversation")
	return cmd
}

func runChat(userID, message string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		slog.Error("runtime build failed", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	ctx := context.Background()

	if message != "" {
		reply, err := rt.orch.AgentLoop(ctx, message, userID, nil)
		if err != nil {
			slog.Error("turn failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(reply)
		return
	}

	// Interactive loop.
	fmt.Println("hearth chat — ctrl-d to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err := rt.orch.AgentLoop(ctx, line, userID, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(reply)
	}
}
