package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voluta-fs/voluta/pkg/vfuse"
	"github.com/voluta-fs/voluta/pkg/vvolume"
)

var (
	flagFsdReadOnly   bool
	flagFsdDebug      bool
	flagFsdPassphrase string
)

var fsdCmd = &cobra.Command{
	Use:   "fsd <path> <mountpoint>",
	Short: "Mount a volume in the foreground",
	Long:  "fsd opens a volume image and serves it over FUSE until interrupted or unmounted.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, mnt := args[0], args[1]

		passphrase := passphraseFor(flagFsdPassphrase)

		var v *vvolume.Volume
		var err error
		if flagFsdReadOnly {
			v, err = vvolume.OpenReadOnly(path, passphrase)
		} else {
			v, err = vvolume.Open(path, passphrase)
		}
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer v.Close()

		server, err := vfuse.Mount(mnt, v, flagFsdDebug)
		if err != nil {
			return fmt.Errorf("mounting %s on %s: %w", path, mnt, err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			log.Infof("signal received, unmounting %s", mnt)
			_ = server.Unmount()
		}()

		log.Infof("%s mounted on %s", path, mnt)
		server.Wait()
		return nil
	},
}

func init() {
	f := fsdCmd.Flags()
	f.BoolVar(&flagFsdReadOnly, "rdonly", false, "mount read-only")
	f.BoolVar(&flagFsdDebug, "fuse-debug", false, "enable go-fuse protocol tracing")
	f.StringVar(&flagFsdPassphrase, "passphrase", "", "passphrase for an encrypted volume (falls back to $VOLUTA_PASSPHRASE)")
}
