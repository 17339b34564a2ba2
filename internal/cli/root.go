// Package cli implements the soul terminal client: a journaling REPL plus a
// few read-only companions (streaks, persona listing) against a running
// Whispr server.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/apiclient"
)

var (
	serverURL string
	userFlag  string
	cuddleID  string
	cacheFlag string
	verbose   bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "soul",
	Short: "Journal your day with a cuddle companion",
	Long:  "A terminal client for Whispr journaling. Talks to a running server, keeps an offline mirror of the conversation, and never loses a turn.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Whispr server base URL")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id (default: $WHISPR_USER)")
	RootCmd.PersistentFlags().StringVarP(&cuddleID, "cuddle", "c", "ellie-sr", "Companion: ellie-sr, ellie-jr, olly-sr, olly-jr")
	RootCmd.PersistentFlags().StringVar(&cacheFlag, "cache", "", "Cache file path (default: ~/.whispr/cache.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log client internals to stderr")
}

func mustUser() string {
	if userFlag != "" {
		return userFlag
	}
	if env := os.Getenv("WHISPR_USER"); env != "" {
		return env
	}
	exitErr("user", fmt.Errorf("a user id is required (--user or $WHISPR_USER)"))
	return ""
}

func cachePath() string {
	if cacheFlag != "" {
		return cacheFlag
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".whispr", "cache.db")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newClient() *apiclient.Client {
	return apiclient.New(serverURL)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
