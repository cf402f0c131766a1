package cmd

import (
	"os"

	"github.com/mezonai/mmn-aa/logx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aanode",
	Short: "Smart account node CLI",
	Long:  "Command line interface for running an account abstraction node and talking to it.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
