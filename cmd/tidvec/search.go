// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tidvec-dev/tidvec/internal/search"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Query the semantic index",
		Long:  "Run a semantic, filter, or hybrid query against the local index and print the results.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("filter", "", "wiki filter expression to restrict results")
	cmd.Flags().Int("limit", 0, "maximum number of results")
	cmd.Flags().Bool("text", false, "include the full tiddler text in results")
	cmd.Flags().StringP("output", "o", "text", "output format: text, json, yaml")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json", "yaml":
	default:
		return tidvecerr.Errorf(tidvecerr.CodeCLIInputInvalid, "unknown output format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backends, err := wireBackends(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	req := search.Request{}
	if len(args) == 1 {
		req.Query = args[0]
	}
	req.Filter, _ = cmd.Flags().GetString("filter")
	req.Limit, _ = cmd.Flags().GetInt("limit")
	req.IncludeText, _ = cmd.Flags().GetBool("text")

	resp, err := backends.Search.Search(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		return yaml.NewEncoder(out).Encode(resp)
	default:
		for _, r := range resp.Results {
			fmt.Fprintf(out, "%.3f  %s#%d\n", r.Similarity, r.Title, r.ChunkID)
			if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
				fmt.Fprintf(out, "       %s\n", snippet)
			}
		}
		if len(resp.Results) == 0 {
			fmt.Fprintln(out, "no results")
		}
		return nil
	}
}
