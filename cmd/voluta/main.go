package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/voluta-fs/voluta/pkg/elog"
)

var log elog.View

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "voluta",
	Short: "Voluta volume and filesystem tools",
	Long:  "voluta creates, mounts, and inspects encrypted FUSE volume images.",
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(fsdCmd)
	rootCmd.AddCommand(mntdCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(fsckCmd)
}

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
