// Package cmd implements the command-line entrypoint: load a container,
// tokenize a prompt, and run the forward-pass loop to completion. Token
// selection (argmax) and incremental printing are CLI conveniences layered
// on top of the engine; the sampling policy itself is out of scope.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llamacore/llamacore/envconfig"
)

func appendEnvDocs(cmd *cobra.Command, envs map[string]envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	usage := "\nEnvironment Variables:\n"
	for name, e := range envs {
		usage += fmt.Sprintf("      %-24s   %s\n", name, e.Description)
	}
	cmd.SetUsageTemplate(cmd.UsageTemplate() + usage)
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	root := &cobra.Command{
		Use:           "llamacore",
		Short:         "Run autoregressive inference against a GGUF model file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := newRunCmd()
	root.AddCommand(runCmd)

	appendEnvDocs(root, envconfig.AsMap())

	return root
}
