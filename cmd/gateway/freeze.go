package main

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/engine"
	"go.uber.org/zap"
)

// freezeCmd — операторский стоп-кран: замораживает исполнение подтверждений
// для типа ресурса на всех инстансах шлюза ("*" — для всех типов).
var freezeCmd = &cobra.Command{
	Use:       "freeze <resource_type|*> <on|off>",
	Short:     "Freeze or unfreeze execution of approved actions for a resource type",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"pod", "deployment", "instance", "*"},
	RunE:      runFreeze,
}

func runFreeze(cmd *cobra.Command, args []string) error {
	var frozen bool
	switch args[1] {
	case "on":
		frozen = true
	case "off":
	default:
		return fmt.Errorf("state must be on or off, got %q", args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return errors.New("freeze needs redis: set redis.enabled")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	fm := engine.NewFreezeManager(rdb, zap.NewNop())
	rt := domain.ResourceType(args[0])
	if err := fm.Toggle(cmd.Context(), rt, frozen); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: frozen=%t\n", rt.Normalize(), frozen)
	return nil
}
