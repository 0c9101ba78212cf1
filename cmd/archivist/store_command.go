package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/api"
	"archivist/internal/blob"
	"archivist/internal/digest"
	"archivist/internal/ledger"
)

func newStoreCommand(ctx *commandContext) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Browse the content store",
	}
	storeCmd.AddCommand(newStoreListCommand(ctx))
	storeCmd.AddCommand(newStoreCatCommand(ctx))
	storeCmd.AddCommand(newStoreFindCommand(ctx))
	return storeCmd
}

func (c *commandContext) withBlobStore(cmd *cobra.Command, fn func(context.Context, blob.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(false)
	if err != nil {
		return err
	}
	store, err := blob.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer blob.Close(store) //nolint:errcheck
	return fn(cmd.Context(), store)
}

func newStoreListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List object keys under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := "raw/"
			if len(args) == 1 {
				prefix = strings.TrimSpace(args[0])
			}
			return ctx.withBlobStore(cmd, func(c context.Context, store blob.Store) error {
				keys, err := store.List(c, prefix)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"prefix": prefix, "keys": keys})
				}
				out := cmd.OutOrStdout()
				if len(keys) == 0 {
					fmt.Fprintf(out, "No objects under %s\n", prefix)
					return nil
				}
				for _, key := range keys {
					fmt.Fprintln(out, key)
				}
				return nil
			})
		},
	}
}

func newStoreCatCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "cat <key>",
		Short: "Print an object, or write it to --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBlobStore(cmd, func(c context.Context, store blob.Store) error {
				data, err := store.Get(c, args[0])
				if errors.Is(err, blob.ErrNotFound) {
					return fmt.Errorf("object %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := os.WriteFile(outPath, data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", outPath, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), outPath)
					return nil
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the object to this file")
	return cmd
}

func newStoreFindCommand(ctx *commandContext) *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "find [content-hash]",
		Short: "List stored assets with a content hash, or matching a local file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var hash string
			switch {
			case len(args) == 1 && filePath != "":
				return errors.New("pass a content hash or --file, not both")
			case len(args) == 1:
				hash = strings.ToLower(strings.TrimSpace(args[0]))
			case filePath != "":
				data, err := os.ReadFile(filePath)
				if err != nil {
					return fmt.Errorf("read %s: %w", filePath, err)
				}
				hasher, err := digest.New(cfg.Storage.Digest)
				if err != nil {
					return err
				}
				hash, _ = hasher.Sum(data)
			default:
				return errors.New("pass a content hash or --file")
			}

			return ctx.withLedger(cmd, func(c context.Context, store *ledger.Store) error {
				assets, err := store.FindAssetsByHash(c, hash)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"hash": hash, "assets": assets})
				}
				rows := make([][]string, 0, len(assets))
				for _, asset := range assets {
					rows = append(rows, []string{
						asset.ID,
						asset.StorageKey,
						string(asset.Kind),
						strconv.FormatInt(asset.ByteLength, 10),
						api.FormatTime(asset.CreatedAt),
					})
				}
				printTable(cmd, fmt.Sprintf("No assets with hash %s", hash),
					[]string{"Asset", "Key", "Kind", "Bytes", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "Hash this file with the configured digest and search for it")
	return cmd
}
