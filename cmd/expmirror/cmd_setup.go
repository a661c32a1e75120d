package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/config"
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

		fmt.Println("expmirror setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Source.BaseURL = prompt(scanner, "Source platform URL", cfg.Source.BaseURL)
		cfg.Source.APIKey = prompt(scanner, "Source API key", cfg.Source.APIKey)

		fmt.Println("Leave the destination empty to copy within the source platform.")
		cfg.Destination.BaseURL = prompt(scanner, "Destination platform URL (optional)", cfg.Destination.BaseURL)
		cfg.Destination.APIKey = prompt(scanner, "Destination API key (optional)", cfg.Destination.APIKey)

		cfg.Output = prompt(scanner, "Default canonical root", cfg.Output)
		if n, err := strconv.Atoi(prompt(scanner, "Parallel transfers (0 = CPU-based)", strconv.Itoa(cfg.Workers))); err == nil {
			cfg.Workers = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token for job reports (optional)", cfg.Telegram.Token)
		enabled := prompt(scanner, "Enable HTTP trigger server (y/n)", yesNo(cfg.HTTP.Enabled))
		cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(enabled), "y")

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
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
