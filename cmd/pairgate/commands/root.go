package commands

import (
	"os"
	"time"

	"github.com/layer-3/pairgate"
	"github.com/spf13/cobra"
)

var (
	configPath string

	serverURL string
	apiKey    string
	token     string
	timeout   time.Duration
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pairgate",
		Short:         "Session lifecycle gateway for phone-number messaging identities",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")

	root.AddCommand(serveCmd(), sessionsCmd(), statsCmd(), tokenCmd())
	return root
}

// addClientFlags registers the flags of commands that talk to a running server
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PAIRGATE_URL", "http://127.0.0.1:3000"), "server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("PAIRGATE_API_KEY"), "API key")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PAIRGATE_TOKEN"), "bearer operator token")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
}

func newClient() *pairgate.HTTPClient {
	c := pairgate.NewHTTP(serverURL)
	c.APIKey = apiKey
	c.Token = token
	return c
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
