package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/rampart/internal/manifest"
	"github.com/majorcontext/rampart/internal/ui"
)

var manifestResolvePaths []string

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with access manifests",
}

var manifestCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a manifest and optionally resolve test paths",
	Long: `Parse and validate an access manifest. With --resolve, also print the
policy each given path would fall under, the same longest-prefix lookup
the daemon performs.

Example:
  rampart manifest check manifest.yaml --resolve /work/out/main.o`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestCheck,
}

func init() {
	manifestCheckCmd.Flags().StringArrayVar(&manifestResolvePaths, "resolve", nil, "absolute path to resolve against the manifest (repeatable)")
	manifestCmd.AddCommand(manifestCheckCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runManifestCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	idx := manifest.Compile(m)

	for _, p := range manifestResolvePaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("resolve path %q must be absolute", p)
		}
	}

	if jsonOut {
		out := map[string]any{
			"valid":          true,
			"scopes":         len(m.Scopes),
			"default_access": m.Default.Access,
		}
		if len(manifestResolvePaths) > 0 {
			results := make([]manifest.PolicyResult, 0, len(manifestResolvePaths))
			for _, p := range manifestResolvePaths {
				results = append(results, idx.Resolve(p))
			}
			out["resolved"] = results
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("%s %s: %d scope(s), default %s\n",
		ui.Green("[ok]"), path, len(m.Scopes), m.Default.Access)
	for i := range m.Scopes {
		s := &m.Scopes[i]
		fmt.Printf("  %s  %s\n", s.Path, ui.Dim(s.Perms().String()))
	}

	for _, p := range manifestResolvePaths {
		res := idx.Resolve(p)
		source := "default"
		if res.Scope != "" {
			source = "scope " + res.Scope
		}
		fmt.Printf("\n%s\n  allowed: %s\n  source:  %s\n  report:  %v\n",
			ui.Bold(p), res.Allowed.String(), source, res.ReportAccess)
	}
	return nil
}
