package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"rechnungen/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the processed message ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the recorded message ids, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := ledger.Open(cfg.LedgerPath, cfg.LedgerCapacity)
		if err != nil {
			return err
		}
		for _, id := range l.IDs() {
			fmt.Println(id)
		}
		fmt.Printf("%d von %d Einträgen belegt (%s)\n", l.Len(), cfg.LedgerCapacity, cfg.LedgerPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
}
