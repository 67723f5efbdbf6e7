package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talbotapp/talbot/internal/api"
	"github.com/talbotapp/talbot/internal/chat"
	"github.com/talbotapp/talbot/internal/config"
	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/responder"
)

// --- say ---

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Send a message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var turn chat.Turn
		req := api.TurnRequest{Message: strings.Join(args, " ")}
		if err := client.call(cmd.Context(), http.MethodPost, "/turns", req, &turn); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), turn.Assistant.Content)
		return nil
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var p any
		if err := client.call(cmd.Context(), http.MethodGet, "/profile", nil, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field, creating the profile if needed.

Examples:
  talbot profile set preferredName Sam
  talbot profile set communicationStyle gentle,encouraging`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.call(cmd.Context(), http.MethodPatch, "/profile", map[string]string{key: value}, nil); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the profile and its documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This will delete your profile. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.call(cmd.Context(), http.MethodDelete, "/profile?confirm=true", nil, nil); err != nil {
			return err
		}

		printSuccess("Profile cleared")
		return nil
	},
}

func init() {
	profileClearCmd.Flags().Bool("confirm", false, "confirm profile deletion")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileClearCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show, clear, export or import the conversation",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the conversation, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var msgs []conversation.Message
		if err := client.call(cmd.Context(), http.MethodGet, "/conversation", nil, &msgs); err != nil {
			return err
		}

		printMessages(cmd.OutOrStdout(), msgs, limit)
		return nil
	},
}

func printMessages(w io.Writer, msgs []conversation.Message, limit int) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %s: %s\n",
			m.Timestamp.Local().Format("2006-01-02 15:04"),
			speaker(string(m.Sender)),
			m.Content,
		)
	}
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
			printWarning("This will delete the whole conversation. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.call(cmd.Context(), http.MethodDelete, "/conversation?confirm=true", nil, nil); err != nil {
			return err
		}

		printSuccess("Conversation cleared")
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversation as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var export json.RawMessage
		if err := client.call(cmd.Context(), http.MethodGet, "/conversation/export", nil, &export); err != nil {
			return err
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, export, "", "  "); err != nil {
			return fmt.Errorf("formatting export: %w", err)
		}
		pretty.WriteByte('\n')

		if output == "" {
			_, err := cmd.OutOrStdout().Write(pretty.Bytes())
			return err
		}
		if err := os.WriteFile(output, pretty.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Conversation exported to %s", output)
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the conversation with a previous export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if _, err := conversation.ParseExport(data); err != nil {
			return fmt.Errorf("%s is not a conversation export: %w", args[0], err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			Imported int `json:"imported"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/conversation/import", json.RawMessage(data), &result); err != nil {
			return err
		}

		printSuccess("Imported %d messages", result.Imported)
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 0, "only show the last N messages")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", render(keyStyle, k.Key), k.Value)
		}
		if cfg.Upstream.APIKey == "" {
			printWarning("no upstream API key: %s", config.APIKeyHint())
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- crisis ---

var crisisCmd = &cobra.Command{
	Use:   "crisis",
	Short: "Print crisis support resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules := responder.DefaultRules()
		if cfg, err := config.Load(); err == nil && cfg.Rules.Path != "" {
			rules = loadRules(cfg.Rules.Path)
		}
		fmt.Fprintln(cmd.OutOrStdout(), render(crisisStyle, rules.Crisis.Response))
		return nil
	},
}
