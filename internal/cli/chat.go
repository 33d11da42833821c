package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var chatSessionKey string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the runtime interactively",
	Long: `Open an interactive chat with the agent governing the given session
key. Each line is one message; an empty line or EOF ends the session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "cli:local:default", "session key in channel:target:user form")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	application, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer application.close()

	fmt.Printf("Session %s. Empty line to quit.\n", chatSessionKey)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		response, err := application.runtime.HandleMessage(cmd.Context(), chatSessionKey, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(response)
	}
	return scanner.Err()
}
