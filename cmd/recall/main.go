package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/recall/ai"
	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: `A retrieval-augmented conversation memory engine. Remember turns, recall them by meaning.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Try to load .env from the current directory (ignore error if file doesn't exist)
		_ = godotenv.Load()
		return nil
	},
}

var rememberCmd = &cobra.Command{
	Use:   "remember <scope> <speaker> <text> <reply>",
	Short: "Record one conversation turn into a scope's memory",
	Args:  cobra.ExactArgs(4),
	RunE: func(_ *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		scope, speaker, text, reply := args[0], args[1], args[2], args[3]
		if engine.Processor.Remember(scope, text, reply, speaker) {
			engine.Processor.Flush()
			fmt.Println("remembered")
			return nil
		}
		fmt.Println("rejected")
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <scope> <query>",
	Short: "Retrieve a memory digest for a query",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), terminationSignals...)
		defer cancel()

		digest := engine.Processor.Retrieve(ctx, args[0], args[1], viper.GetInt("top-k"))
		if digest == "" {
			fmt.Println("(no memories)")
			return nil
		}
		fmt.Println(digest)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <scope>",
	Short: "Show store and cache counters for a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		scope := args[0]
		cacheStats := engine.CacheStats()
		fmt.Printf("Scope: %s\n", scope)
		fmt.Printf("Documents: %d\n", engine.Processor.DocumentCount(scope))
		fmt.Printf("Cache hits: %d\n", cacheStats.Hits)
		fmt.Printf("Cache misses: %d\n", cacheStats.Misses)
		fmt.Printf("Cache size: %d\n", cacheStats.Size)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the recall version",
	Run: func(_ *cobra.Command, _ []string) {
		v := version.GetCurrentVersion(viper.GetString("mode"))
		fmt.Printf("recall %s (release line %s)\n", v, version.GetMinorVersion(v))
	},
}

func newEngine() (*ai.Engine, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Data:    viper.GetString("data"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if data := viper.GetString("data"); data != "" {
		instanceProfile.Data = data
	}
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return ai.NewEngine(ai.NewConfigFromProfile(instanceProfile))
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("top-k", 5)

	rootCmd.PersistentFlags().String("mode", "dev", `mode, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().Int("top-k", 5, "number of memories returned per query")

	for _, key := range []string{"mode", "data", "top-k"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(rememberCmd, askCmd, statsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
