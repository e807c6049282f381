package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modoterra/reqlog/pkg/daemon/service"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the reqlogd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start reqlogd as a user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath := ""
		if _, err := os.Stat(configPath); err == nil {
			cfgPath = configPath
		}
		if err := service.Install(cmd.Context(), cfgPath); err != nil {
			return err
		}
		path, _ := service.UnitPath()
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", path)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the reqlogd user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "uninstalled reqlogd.service")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service and socket state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprint(cmd.OutOrStdout(), service.Status(cmd.Context(), resolved().Socket))
	},
}

var (
	logsLines  int
	logsFollow bool
)

var serviceLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show reqlogd journal output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return service.Logs(cmd.Context(), cmd.OutOrStdout(), logsLines, logsFollow)
	},
}

func init() {
	serviceLogsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of lines to show")
	serviceLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow new output")

	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	serviceCmd.AddCommand(serviceLogsCmd)
}
