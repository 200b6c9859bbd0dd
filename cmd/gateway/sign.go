package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/approval-gateway/internal/webhook"
)

var (
	signSecret    string
	signTimestamp string
	signBody      string
)

// signCmd подписывает тело так же, как Slack: для ручной проверки колбэка через curl.
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print Slack-style signature headers for a callback body",
	Long: `Computes the v0 HMAC-SHA256 signature of a callback body. The body is taken
from --body, or read from stdin when --body is "-". The secret defaults to
slack.signing_secret from the config.`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "signing secret (default: slack.signing_secret)")
	signCmd.Flags().StringVar(&signTimestamp, "timestamp", "", "unix timestamp (default: now)")
	signCmd.Flags().StringVar(&signBody, "body", "-", `raw request body, "-" reads stdin`)
}

func runSign(cmd *cobra.Command, _ []string) error {
	secret := signSecret
	if secret == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		secret = cfg.Slack.SigningSecret
	}
	if secret == "" {
		return errors.New("signing secret is empty: pass --secret or set slack.signing_secret")
	}

	ts := signTimestamp
	if ts == "" {
		ts = strconv.FormatInt(time.Now().Unix(), 10)
	}

	body := []byte(signBody)
	if signBody == "-" {
		var err error
		if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", webhook.HeaderTimestamp, ts)
	fmt.Fprintf(out, "%s: %s\n", webhook.HeaderSignature, webhook.Sign([]byte(secret), ts, body))
	return nil
}

