// cmd/logctl is the CLI client for a replicated log node, built with
// Cobra.
//
// Usage:
//
//	logctl append "hello world" --w 2 --server http://localhost:8080
//	logctl tail                 --server http://localhost:8080
//	logctl register http://localhost:8081 --server http://localhost:8080
//	logctl health                --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"replicatedlog/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "logctl",
		Short: "CLI client for a replicated log node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(appendCmd(), tailCmd(), registerCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── append ───────────────────────────────────────────────────────────────────

func appendCmd() *cobra.Command {
	var w int
	var timeoutMs int

	cmd := &cobra.Command{
		Use:   "append <message>",
		Short: "Append a message with a given write concern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			var appendTimeout time.Duration
			if timeoutMs > 0 {
				appendTimeout = time.Duration(timeoutMs) * time.Millisecond
			}
			resp, err := c.Append(context.Background(), args[0], w, appendTimeout)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&w, "w", 0, "write concern (0 = server default)")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "write-concern wait timeout in milliseconds (0 = server default)")
	return cmd
}

// ─── tail ─────────────────────────────────────────────────────────────────────

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "List all messages on this node, in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			msgs, err := c.Tail(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(msgs)
			return nil
		},
	}
}

// ─── register ─────────────────────────────────────────────────────────────────

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <secondary-url>",
		Short: "Register a secondary with the master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.RegisterSecondary(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("registered %q\n", args[0])
			return nil
		},
	}
}

// ─── health ───────────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report this node's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			info, err := c.Health(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(info)
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
