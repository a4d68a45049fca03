package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("agentchat Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. API base URL
		cfg.API.BaseURL = prompt(scanner, "API base URL", cfg.API.BaseURL)

		// 2. Proxy auth token
		cfg.API.Token = prompt(scanner, "Proxy auth token", cfg.API.Token)

		// 3. Company and user ids used in proxy paths
		cfg.API.CompanyID = prompt(scanner, "Company ID", cfg.API.CompanyID)
		cfg.API.UserID = prompt(scanner, "User ID", cfg.API.UserID)

		// 4. Organization
		cfg.Session.OrgID = prompt(scanner, "Organization ID (optional)", cfg.Session.OrgID)

		// 5. Storage backend
		backend := prompt(scanner, "Storage backend (file, sqlite, redis, memory)", cfg.Storage.Backend)
		cfg.Storage.Backend = strings.ToLower(backend)
		if cfg.Storage.Backend == "redis" {
			cfg.Storage.RedisURL = prompt(scanner, "Redis URL", cfg.Storage.RedisURL)
		}

		// 6. Telegram bot (optional)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			cfg.Telegram.AgentID = prompt(scanner, "Agent ID for Telegram chats", cfg.Telegram.AgentID)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
