// Duka — conversational shopping assistant for e-commerce storefronts.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "duka",
	Short: "Duka — AI shopping assistant for e-commerce storefronts.",
	Long: `Duka embeds a conversational shopping assistant into an online store.
It answers shopper questions by calling live catalog and cart tools through
an LLM, so replies reflect real products, prices and stock levels.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, seedCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
