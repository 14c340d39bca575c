package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rideline/internal/app"
	"rideline/internal/config"
	"rideline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Rideline CLI",
	Long: `Rideline builds group-transport requests and dispatches them into virtual taxis.
- Draft: the request being authored. Pick employees, a direction, a date (or recurring
  dates) and adjust pickup or drop-off addresses. Drafts are saved in the workspace and
  resumed by the next command.
- Submit: turns a draft into one transport request per occurrence at the request gateway.
- Request: moves through PENDING -> APPROVED -> DISPATCHED -> ASSIGNED -> IN_PROGRESS -> COMPLETED
  (CANCELLED and REJECTED are exits).
- Dispatch: splits the passengers of an approved request into virtual taxis of fixed
  capacity. Finalize sends the taxi tags to the gateway and marks the request DISPATCHED.
- Event log: every store write and engine action, view with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RIDELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("gateway-url", "", "request gateway base URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	for _, name := range []string{"workspace", "json", "actor-id", "gateway-url", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// applyOverrides copies flag and RIDELINE_* environment values over the file
// config.
func applyOverrides(cfg *config.Config) {
	if u := viper.GetString("gateway-url"); u != "" {
		cfg.Gateway.Mode = "http"
		cfg.Gateway.BaseURL = u
	}
	if tok := viper.GetString("gateway-token"); tok != "" {
		cfg.Gateway.BearerToken = tok
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), app.Options{Configure: applyOverrides})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
