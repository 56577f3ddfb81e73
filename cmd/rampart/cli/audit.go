package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/rampart/internal/report"
	"github.com/majorcontext/rampart/internal/ui"
)

var auditDBPath string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the access audit chain",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded access decisions",
	Long: `List every entry in the audit chain in sequence order.

Example:
  rampart audit list --db ./audit.db`,
	Args: cobra.NoArgs,
	RunE: runAuditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit chain",
	Long: `Verify the audit chain by recomputing every entry hash and checking
every link to the previous entry. Detects truncated, rewritten, or
reordered history.

Example:
  rampart audit verify --db ./audit.db`,
	Args: cobra.NoArgs,
	RunE: runAuditVerify,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditDBPath, "db", "audit.db", "path to the audit database")
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*report.Store, error) {
	if _, err := os.Stat(auditDBPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("audit database not found: %s", auditDBPath)
	}
	return report.OpenStore(auditDBPath)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("%6d  %s  %s\n",
			e.Sequence,
			ui.Dim(e.Timestamp.Format("2006-01-02 15:04:05")),
			formatEntry(e))
	}
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

// formatEntry renders one entry payload for human output. Payloads come
// back from SQLite as generic maps.
func formatEntry(e *report.Entry) string {
	data, _ := e.Data.(map[string]any)
	switch e.Type {
	case report.EntryAccess:
		verdict := ui.Green("allow")
		if allowed, _ := data["allowed"].(bool); !allowed {
			verdict = ui.Red("deny")
		} else if audit, _ := data["audit"].(bool); audit {
			verdict = ui.Yellow("audit")
		}
		pid, _ := data["pid"].(float64)
		op, _ := data["operation"].(string)
		path, _ := data["path"].(string)
		pipID, _ := data["pip_id"].(string)
		return fmt.Sprintf("%s  pip=%s pid=%d %s %s", verdict, pipID, int(pid), op, path)
	case report.EntryTreeCompleted:
		pipID, _ := data["pip_id"].(string)
		rootPID, _ := data["root_pid"].(float64)
		return fmt.Sprintf("%s  pip=%s root_pid=%d", ui.Bold("tree done"), pipID, int(rootPID))
	default:
		return string(e.Type)
	}
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	store, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	count := store.Count()
	badSeq, verifyErr := store.Verify()

	if jsonOut {
		result := map[string]any{
			"valid":   verifyErr == nil,
			"entries": count,
		}
		if verifyErr != nil {
			result["bad_seq"] = badSeq
			result["error"] = verifyErr.Error()
		}
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("Auditing chain: %s\n", auditDBPath)
	if verifyErr == nil {
		fmt.Printf("  %s hash chain: %d entries, no gaps, all hashes valid\n", ui.Green("[ok]"), count)
		fmt.Printf("\nVERDICT: %s\n", ui.Green("INTACT - no tampering detected"))
		return nil
	}

	fmt.Printf("  %s hash chain: %v\n", ui.Red("[FAIL]"), verifyErr)
	fmt.Printf("\nVERDICT: %s (first bad entry: %d)\n", ui.Red("TAMPERED"), badSeq)
	return fmt.Errorf("tampering detected")
}
