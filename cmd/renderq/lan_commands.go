package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"renderqueue/internal/config"
	"renderqueue/internal/ipc"
)

func newLANCommands(ctx *commandContext) []*cobra.Command {
	var port int
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Accept file transfers from LAN clients",
		Long: `Put the daemon in the LAN server role. Clients that connect with the same
protocol version can send .blend files, which are stored in the inbox
directory. Port 0 picks a free port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = -1
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Serve(port)
				if err != nil {
					return err
				}
				hostname, _ := os.Hostname()
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Server launched, now accepting connections")
				fmt.Fprintf(out, "Host:    %s\n", hostname)
				fmt.Fprintf(out, "Address: %s\n", resp.Address)
				return nil
			})
		},
	}
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default: network.port from config)")

	clientCmd := newConnectCommand(ctx, "client", false,
		"Connect to a LAN server to send it files")
	workerCmd := newConnectCommand(ctx, "worker", true,
		"Connect to a LAN server as a render worker")

	sendCmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to the connected LAN server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("inspect %q: %w", path, err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				started := time.Now()
				resp, err := client.Send(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %s (%s in %s)\n",
					resp.Name, humanize.IBytes(uint64(resp.Bytes)), time.Since(started).Round(time.Millisecond))
				return nil
			})
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Leave the current LAN role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Disconnect(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
				return nil
			})
		},
	}

	var limit int
	var asJSON bool
	transfersCmd := &cobra.Command{
		Use:   "transfers",
		Short: "List recent LAN file transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Transfers(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No transfers recorded")
					return nil
				}
				fmt.Fprint(out, transferTable.render(buildTransferRows(resp.Items, time.Now())))
				return nil
			})
		},
	}
	transfersCmd.Flags().IntVarP(&limit, "lines", "n", 20, "Number of transfers to show")
	transfersCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return []*cobra.Command{serverCmd, clientCmd, workerCmd, sendCmd, disconnectCmd, transfersCmd}
}

func newConnectCommand(ctx *commandContext, name string, worker bool, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <host:port>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Connect(args[0], worker)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %s\n", resp.LAN.Peer, resp.LAN.Role)
				return nil
			})
		},
	}
}
