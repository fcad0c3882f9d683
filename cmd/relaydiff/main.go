package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	storeFlag    string
	configFlag   string
	logLevelFlag string

	// viewerID tags every log line of this process so interleaved output
	// from sibling viewers can be told apart.
	viewerID = uuid.NewString()
	logger   = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "relaydiff",
	Short: "Browser diff viewer that groups sibling tabs of one difftool run",
	Long: `relaydiff renders one file diff per browser tab. Tabs opened for the same
directory within the grouping window discover each other through a shared
entry store; the newest tab collects every file and the older ones close.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "entry store DSN (sqlite://, postgres://, file path, memory://)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "rc file (default ~/.relaydiffrc)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
}

func initLogger() error {
	raw := strings.TrimSpace(logLevelFlag)
	if raw == "" {
		raw = stringEnv("RELAYDIFF_LOG_LEVEL", "info")
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Str("viewer", viewerID[:8]).
		Logger()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relaydiff:", err)
		os.Exit(1)
	}
}
