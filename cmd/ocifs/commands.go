package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ocifs/ocifs-go/internal/cache"
	"github.com/ocifs/ocifs-go/internal/filesystem"
	"github.com/ocifs/ocifs-go/internal/fuse"
)

func printEntry(out io.Writer, e cache.Entry) {
	mtime := "-"
	if !e.TimeModified.IsZero() {
		mtime = e.TimeModified.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(out, "%-9s %12d %-20s %s\n", e.Type, e.Size, mtime, e.Name)
}

func newLsCommand(a *app) *cobra.Command {
	var long, recursive, refresh bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a namespace, bucket or directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			var entries []cache.Entry
			var err error
			if recursive {
				entries, err = a.fsys.Find(ctx, path, filesystem.FindOptions{WithDirs: true})
			} else {
				entries, err = a.fsys.LsDetail(ctx, path, refresh)
			}
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
			for _, e := range entries {
				if long {
					printEntry(out, e)
				} else {
					fmt.Fprintln(out, e.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show type, size and modification time")
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "List everything below the path")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the listing cache")
	return cmd
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show the metadata of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.fsys.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc := map[string]interface{}{
				"name": info.Name,
				"type": string(info.Type),
				"size": info.Size,
			}
			optional := map[string]string{
				"etag":           info.ETag,
				"md5":            info.MD5,
				"content_type":   info.ContentType,
				"storage_tier":   info.StorageTier,
				"archival_state": info.ArchivalState,
				"compartment_id": info.CompartmentID,
			}
			for k, v := range optional {
				if v != "" {
					doc[k] = v
				}
			}
			if !info.TimeCreated.IsZero() {
				doc["time_created"] = info.TimeCreated.UTC().Format(time.RFC3339)
			}
			if !info.TimeModified.IsZero() {
				doc["time_modified"] = info.TimeModified.UTC().Format(time.RFC3339)
			}
			if len(info.Metadata) > 0 {
				doc["metadata"] = info.Metadata
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(doc)
		},
	}
}

func newCatCommand(a *app) *cobra.Command {
	var start, end int64
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.fsys.CatRange(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "First byte to print")
	cmd.Flags().Int64Var(&end, "end", -1, "Byte after the last one to print; negative reads to the end")
	return cmd
}

func newPutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Put(cmd.Context(), args[0], args[1])
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> <local>",
		Short: "Download an object to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Get(cmd.Context(), args[0], args[1])
		},
	}
}

func newRmCommand(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove objects or buckets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := a.fsys.Rm(cmd.Context(), path, recursive); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove everything below the path")
	return cmd
}

func newMkdirCommand(a *app) *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Mkdir(cmd.Context(), args[0], parents)
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create the bucket of a deeper path too")
	return cmd
}

func newRmdirCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Remove an empty bucket or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Rmdir(cmd.Context(), args[0])
		},
	}
}

func newTouchCommand(a *app) *cobra.Command {
	var noTruncate bool
	cmd := &cobra.Command{
		Use:   "touch <path>",
		Short: "Create an empty object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Touch(cmd.Context(), args[0], !noTruncate, nil)
		},
	}
	cmd.Flags().BoolVar(&noTruncate, "no-truncate", false, "Fail instead of truncating an existing object")
	return cmd
}

func newCpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy objects server side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Copy(cmd.Context(), args[0], args[1])
		},
	}
}

func newMvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename an object within its bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fsys.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func newDuCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "du <path>",
		Short: "Print the total size below a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := a.fsys.Du(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", total, args[0])
			return nil
		},
	}
}

func newMountCommand(a *app) *cobra.Command {
	var (
		readOnly bool
		uid, gid uint32
	)
	cmd := &cobra.Command{
		Use:   "mount <path> <mountpoint>",
		Short: "Mount a namespace, bucket or prefix with FUSE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := fuse.Options{
				ReadOnly: readOnly,
				UID:      uid,
				GID:      gid,
			}
			if a.logger != nil {
				opts.Logger = a.logger
			}
			if a.cfg != nil {
				ttl, err := a.cfg.StatTTL()
				if err != nil {
					return err
				}
				opts.StatTTL = ttl
				opts.CacheBlocks = a.cfg.Cache.Blocks
			}
			return fuse.Mount(ctx, args[1], a.fsys, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Mount read-only")
	cmd.Flags().Uint32Var(&uid, "uid", uint32(os.Getuid()), "Owner of every file")
	cmd.Flags().Uint32Var(&gid, "gid", uint32(os.Getgid()), "Group of every file")
	return cmd
}
