package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/voluta-fs/voluta/pkg/vvolume"
)

var flagShowPassphrase string

var showCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print a volume's master record and super block metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := vvolume.OpenReadOnly(args[0], passphraseFor(flagShowPassphrase))
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer v.Close()

		info := v.Info()
		free, total, err := v.StatFree()
		if err != nil {
			return err
		}

		plainTable([][]string{
			{"field", "value"},
			{"path", info.Path},
			{"uuid", fmt.Sprintf("%x", info.UUID)},
			{"name", info.FSName},
			{"created", time.Unix(0, info.CreationTime).UTC().Format(time.RFC3339)},
			{"encrypted", fmt.Sprintf("%v", info.Encrypted)},
			{"allocation groups", fmt.Sprintf("%d", info.NAG)},
			{"first free ino", fmt.Sprintf("%d", info.FirstFreeIno)},
			{"block-octets free/total", fmt.Sprintf("%d/%d", free, total)},
		})
		return nil
	},
}

// plainTable prints vals[1:] as a borderless grid, modeled on cmd/vorteil's
// PlainTable. vals[0] names the columns but is not rendered; tablewriter
// derives column widths from the appended rows alone.
func plainTable(vals [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for i := 1; i < len(vals); i++ {
		table.Append(vals[i])
	}
	table.Render()
}

func passphraseFor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("VOLUTA_PASSPHRASE")
}

func init() {
	showCmd.Flags().StringVar(&flagShowPassphrase, "passphrase", "", "passphrase for an encrypted volume (falls back to $VOLUTA_PASSPHRASE)")
}
