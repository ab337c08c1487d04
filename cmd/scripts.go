// -- cmd/scripts.go --
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/snapreport/internal/observability"
	"github.com/xkilldash9x/snapreport/internal/scripts"
)

func newScriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts [name]",
		Short: "List the injectable scripts, or print the body a name resolves to",
		Long: `Without arguments, lists every script name. With a name, prints the body
that would be injected, taking scripts.dir overrides into account.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := scripts.NewDirStore(cfg.Scripts().Dir, observability.GetLogger())
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runScripts(cmd.OutOrStdout(), repo, name)
		},
	}
}

func runScripts(out io.Writer, repo scripts.Repository, name string) error {
	if name == "" {
		for _, n := range scripts.Names() {
			fmt.Fprintln(out, n)
		}
		return nil
	}
	body, err := repo.Get(scripts.Name(name))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, body)
	return nil
}
