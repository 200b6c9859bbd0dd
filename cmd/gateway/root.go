package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xela07ax/approval-gateway/internal/infra"
)

// configPath — явный config.yaml; пусто — поиск в . и ./configs.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "approval-gateway",
	Short: "Slack approval gateway for destructive Kubernetes and EC2 actions",
	Long: `approval-gateway intercepts destructive infrastructure tool calls, posts an
approval request to Slack and executes the action only after an administrator
presses the approve button.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.AddCommand(serveCmd, signCmd, freezeCmd)
}

func Execute(v string) {
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(`{{printf "approval-gateway version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig читает конфиг и строит логгер; Validate вызывает только serve.
func loadConfig() (*infra.Config, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
