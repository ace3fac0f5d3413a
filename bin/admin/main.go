// simple-blacklist-admin manages a running server through its control socket.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xpdustry/simple-blacklist/server"
)

func main() {
	homeDir, _ := os.UserHomeDir()
	socketPath := filepath.Join(homeDir, ".simple-blacklist", "control.sock")

	root := &cobra.Command{
		Use:          "simple-blacklist-admin",
		Short:        "Manage a running simple-blacklist server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", socketPath, "Path to control socket")

	root.AddCommand(&cobra.Command{
		Use:   "blacklist [args...]",
		Short: "Run a blacklist command, see 'blacklist help'. Put '--' before arguments starting with '-'.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.OutOrStdout(), socketPath, strings.TrimSpace(server.ControlBlacklist+" "+strings.Join(args, " ")))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write modified settings to disk now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.OutOrStdout(), socketPath, server.ControlSave)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "bans",
		Short: "List banned identities and addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.OutOrStdout(), socketPath, server.ControlBans)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "unban <identity|address>",
		Short: "Lift the ban on an identity fingerprint or an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.OutOrStdout(), socketPath, server.ControlUnban+" "+args[0])
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func request(w io.Writer, socketPath, line string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to control socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	response = strings.TrimSpace(response)
	rest, _ := io.ReadAll(reader)

	if response == "OK" {
		_, err := w.Write(rest)
		return err
	}
	if msg, found := strings.CutPrefix(response, "ERROR: "); found {
		return fmt.Errorf("%s", strings.TrimSpace(msg+"\n"+string(rest)))
	}
	return fmt.Errorf("unexpected response: %s", response)
}
