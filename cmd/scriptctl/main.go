// Command scriptctl validates call scripts and exercises them offline:
// classify a single utterance or talk through a whole call on stdin.
package main

import (
	"fmt"
	"os"

	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/spf13/cobra"
)

var (
	scriptPath    string
	scriptVariant string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptctl",
		Short:         "Validate and exercise taxline call scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&scriptPath, "script", "", "path to a script YAML file")
	root.PersistentFlags().StringVar(&scriptVariant, "variant", "qualify_transfer", "bundled script variant")

	root.AddCommand(newValidateCmd(), newClassifyCmd(), newChatCmd())
	return root
}

// loadScript honours --script over --variant.
func loadScript() (*script.Script, error) {
	if scriptPath != "" {
		return script.Load(scriptPath)
	}
	return script.Bundled(scriptVariant)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
