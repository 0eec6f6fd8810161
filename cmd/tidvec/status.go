// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tidvec-dev/tidvec/internal/syncer"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running server's sync status",
		Long:  "Check a running tidvec server's sync health endpoint and display its state.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:8580", "server address to check")
	cmd.Flags().StringP("output", "o", "text", "output format: text, json, yaml")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/sync/health")
	if err != nil {
		_, _ = fmt.Fprintf(out, "Server at %s is not running (%v)\n", addr, err)
		return nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(out, "Server at %s: HTTP %d: %s\n", addr, resp.StatusCode, raw)
		return nil
	}

	var health syncer.Health
	if err := json.Unmarshal(raw, &health); err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	case "yaml":
		return yaml.NewEncoder(out).Encode(health)
	case "text":
		_, _ = fmt.Fprintf(out, "Server at %s\n", addr)
		_, _ = fmt.Fprintf(out, "  sync loop running: %t\n", health.Running)
		_, _ = fmt.Fprintf(out, "  cycle in flight:   %t\n", health.Syncing)
		_, _ = fmt.Fprintf(out, "  indexed documents: %d\n", health.IndexedCount)
		_, _ = fmt.Fprintf(out, "  stored chunks:     %d\n", health.ChunkCount)
		_, _ = fmt.Fprintf(out, "  embedding healthy: %t\n", health.Embedding.Available)
		return nil
	default:
		return tidvecerr.Errorf(tidvecerr.CodeCLIInputInvalid, "unknown output format %q", format)
	}
}
