package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag  string
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "chatctl",
		Short: "CLI client for the chat backend REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Chat service base URL")

	// chat subcommand
	var sessionFlag, messageFlag string
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a chat message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" || sessionFlag == "" || messageFlag == "" {
				return fmt.Errorf("--user, --session and --message required")
			}
			payload := map[string]interface{}{
				"message":   messageFlag,
				"sessionId": sessionFlag,
				"userId":    userFlag,
			}
			data, err := doPostJSON(apiFlag+"/api/chat", payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	chatCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	chatCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID (required)")
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text (required)")
	rootCmd.AddCommand(chatCmd)

	// history subcommand
	historyCmd := &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Show persisted session history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/sessions/%s/messages", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(historyCmd)

	// facts subcommand
	factsCmd := &cobra.Command{
		Use:   "facts USER_ID",
		Short: "List a user's long-term facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/users/%s/facts", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(factsCmd)

	// profile subcommand
	profileCmd := &cobra.Command{
		Use:   "profile USER_ID",
		Short: "Show a user's decayed personalization profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/users/%s/profile", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(profileCmd)

	// health subcommand
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(apiFlag + "/api/health")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
