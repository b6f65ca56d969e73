package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

var flagMntdUsock string

// mntdCmd is a stub mount-helper collaborator: it listens on a unix socket
// and accepts connections, matching the shape of the mount-helper IPC that
// a privilege-separated fsd would hand a /dev/fuse file descriptor to.
// Actually passing the fd (SCM_RIGHTS) is protocol-internals territory
// outside scope here; this gives the reference CLI wiring something real
// to dial.
var mntdCmd = &cobra.Command{
	Use:   "mntd",
	Short: "Run the mount-helper IPC listener",
	Long:  "mntd listens on a unix socket and accepts mount-helper connections; fsd mounts directly and does not use it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMntdUsock == "" {
			return fmt.Errorf("--usock is required")
		}
		os.Remove(flagMntdUsock)

		l, err := net.Listen("unix", flagMntdUsock)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", flagMntdUsock, err)
		}
		defer l.Close()
		defer os.Remove(flagMntdUsock)

		log.Infof("mntd listening on %s", flagMntdUsock)
		for {
			conn, err := l.Accept()
			if err != nil {
				return err
			}
			log.Debugf("mntd accepted connection from %s", conn.RemoteAddr())
			conn.Close()
		}
	},
}

func init() {
	mntdCmd.Flags().StringVar(&flagMntdUsock, "usock", "", "unix socket path to listen on")
}
