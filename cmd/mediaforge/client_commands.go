package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kiranshivaraju/mediaforge/pkg/client"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8188"

func newQueueCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show running and pending jobs of a composition server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, 10*time.Second)

			q, err := c.Queue(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := c.SystemStats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderQueue(q, stats))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Composition server base URL")
	return cmd
}

func newSubmitCommand() *cobra.Command {
	var (
		serverURL string
		clientID  string
		wait      bool
		interval  time.Duration
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "submit <workflow.json>",
		Short: "Submit a workflow file and optionally wait for its video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workflow: %w", err)
			}
			if !json.Valid(raw) {
				return fmt.Errorf("workflow %s is not valid JSON", args[0])
			}

			c := client.New(serverURL, 30*time.Second)
			id, err := c.Submit(cmd.Context(), raw, clientID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)

			if !wait && outPath == "" {
				return nil
			}

			entry, err := c.Wait(cmd.Context(), id, interval)
			if err != nil {
				return err
			}
			if outPath == "" {
				return nil
			}

			for _, out := range entry.Outputs {
				if len(out.Videos) == 0 {
					continue
				}
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				n, err := c.Download(cmd.Context(), out.Videos[0].Filename, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, outPath)
				return nil
			}
			return fmt.Errorf("job %s completed without a video output", id)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Composition server base URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id to attach to the job")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Download the video to this path (implies --wait)")
	return cmd
}
