// Package cmd implements the vuio command line. The root command runs the
// media server; everything else is plumbing around it.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Filled in by the linker for release builds.
	version = "dev"

	flagPort       int
	flagName       string
	flagDebug      bool
	flagConfigPath string
)

// Root is the main vuio command.
var Root = &cobra.Command{
	Use:   "vuio [media-dir]",
	Short: "DLNA/UPnP media server",
	Long: `vuio is a DLNA/UPnP MediaServer for a single host on a LAN. It advertises
itself over SSDP, answers ContentDirectory Browse requests, and streams media
with byte-range support. The media index is kept in sync with disk by a full
scan at startup and a filesystem watcher afterwards.

With no arguments the configuration file decides what is served; passing a
media directory overrides the configured directories for this run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		setupLogging()
		mediaDir := ""
		if len(args) > 0 {
			mediaDir = args[0]
		}
		return runServer(command.Context(), mediaDir)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version",
	Run: func(command *cobra.Command, args []string) {
		command.Println("vuio " + version)
	},
}

func init() {
	flags := Root.Flags()
	addFlags(flags)
	Root.AddCommand(versionCmd)
}

func addFlags(flags *pflag.FlagSet) {
	flags.IntVarP(&flagPort, "port", "p", 0, "HTTP listen port (overrides the config file)")
	flags.StringVarP(&flagName, "name", "n", "", "DLNA friendly name (overrides the config file)")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	flags.StringVarP(&flagConfigPath, "config", "c", "", "path to the configuration file")
}

func setupLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Main runs the root command and exits non-zero on fatal errors.
func Main() {
	if err := Root.Execute(); err != nil {
		logrus.WithError(err).Error("fatal error")
		os.Exit(1)
	}
}
