package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/config"
)

func cmdStores(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the configured stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, sc := range cfg.Stores {
				location := sc.Bucket
				switch sc.Kind {
				case config.KindLocal:
					location = sc.RootDir
				case config.KindAzure:
					location = sc.Container
				}
				if sc.Prefix != "" {
					location += "/" + sc.Prefix
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", sc.Name, sc.Kind, location)
			}
			return tw.Flush()
		},
	}
}

func cmdList(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls store:[prefix]",
		Short: "List the blobs below a prefix of an s3 store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRef(args[0])
			if err != nil {
				return err
			}
			st, err := openS3Store(cmd.Context(), g, r.store)
			if err != nil {
				return err
			}
			it := st.ListBlobs(r.path)
			defer it.Close()
			for blob, err := range it.All(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), blob.Path())
			}
			return nil
		},
	}
}

func cmdStat(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stat store:path",
		Short: "Show the size and metadata of a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseBlobRef(args[0])
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), g, r)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st, ok := b.(*blobstore.Store)
			if !ok {
				size, err := b.Size(cmd.Context(), r.path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Path:  %s\nSize:  %s (%d bytes)\n", r, humanize.IBytes(uint64(size)), size)
				return nil
			}
			blob := st.GetBlob(r.path)
			info, err := blob.Stat(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Path:\t%s\n", r)
			fmt.Fprintf(tw, "Object:\t%s\n", blob)
			fmt.Fprintf(tw, "Size:\t%s (%d bytes)\n", humanize.IBytes(uint64(info.Size)), info.Size)
			fmt.Fprintf(tw, "ETag:\t%s\n", info.ETag)
			fmt.Fprintf(tw, "Modified:\t%s (%s)\n", info.LastModified.Format(time.RFC3339), humanize.Time(info.LastModified))
			if ct := info.Metadata.ContentType; ct != "" {
				fmt.Fprintf(tw, "Content-Type:\t%s\n", ct)
			}
			for k, v := range info.Metadata.User {
				fmt.Fprintf(tw, "Meta %s:\t%s\n", k, v)
			}
			return tw.Flush()
		},
	}
}

func cmdCat(g *globalFlags) *cobra.Command {
	var offset, length int64
	cmd := &cobra.Command{
		Use:   "cat store:path",
		Short: "Write a blob, or a byte range of it, to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseBlobRef(args[0])
			if err != nil {
				return err
			}
			var rng *blobstore.ByteRange
			if offset != 0 || length >= 0 {
				br := blobstore.RangeFrom(offset)
				if length >= 0 {
					br.End = offset + length
				}
				if err := br.Validate(); err != nil {
					return err
				}
				rng = &br
			}
			b, err := openBackend(cmd.Context(), g, r)
			if err != nil {
				return err
			}
			rc, err := b.NewReader(cmd.Context(), r.path, rng)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "first byte to read")
	cmd.Flags().Int64Var(&length, "length", -1, "number of bytes to read (-1 reads to the end)")
	return cmd
}

func cmdPut(g *globalFlags) *cobra.Command {
	var (
		contentType string
		ifNotExists bool
		meta        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "put file|- store:path",
		Short: "Upload a local file, or stdin, to a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := parseBlobRef(args[1])
			if err != nil {
				return err
			}
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			b, err := openBackend(cmd.Context(), g, dst)
			if err != nil {
				return err
			}

			opts := []blobstore.WriterOption{blobstore.WithMetadata(blobstore.ObjectMetadata{ContentType: contentType, User: meta})}
			if ifNotExists {
				opts = append(opts, blobstore.WithWriteMode(blobstore.CreateNew))
			}
			w, err := b.NewWriter(cmd.Context(), dst.path, opts...)
			if err != nil {
				return err
			}
			n, err := io.Copy(w, src)
			if err != nil {
				return errors.Join(err, w.Abort())
			}
			if err := w.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s to %s\n", humanize.IBytes(uint64(n)), dst)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type of the blob")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "fail if the blob already exists")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "user metadata as key=value pairs")
	return cmd
}

// cmdCopy builds "cp" or, with move set, "mv".
func cmdCopy(g *globalFlags, move bool) *cobra.Command {
	use, short := "cp", "Copy a blob, within or across stores"
	if move {
		use, short = "mv", "Move a blob, within or across stores"
	}
	return &cobra.Command{
		Use:   use + " store:src store:dst",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseBlobRef(args[0])
			if err != nil {
				return err
			}
			dst, err := parseBlobRef(args[1])
			if err != nil {
				return err
			}
			stores, err := openStores(cmd.Context(), g, src.store, dst.store)
			if err != nil {
				return err
			}
			srcBackend, _ := stores.Get(src.store)
			dstBackend, _ := stores.Get(dst.store)
			if move {
				return blobstore.Move(cmd.Context(), srcBackend, src.path, dstBackend, dst.path)
			}
			return blobstore.Copy(cmd.Context(), srcBackend, src.path, dstBackend, dst.path)
		},
	}
}

func cmdRemove(g *globalFlags) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm store:path",
		Short: "Delete a blob, or with -r every blob below a prefix of an s3 store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !recursive {
				r, err := parseBlobRef(args[0])
				if err != nil {
					return err
				}
				b, err := openBackend(cmd.Context(), g, r)
				if err != nil {
					return err
				}
				return b.Delete(cmd.Context(), r.path)
			}
			r, err := parseRef(args[0])
			if err != nil {
				return err
			}
			st, err := openS3Store(cmd.Context(), g, r.store)
			if err != nil {
				return err
			}
			return st.DeleteBlobs(cmd.Context(), r.path)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete every blob below the path")
	return cmd
}

func cmdAbortStale(g *globalFlags) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "abort-stale store",
		Short: "Abort multipart uploads left behind by failed writers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openS3Store(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			n, err := st.AbortStaleUploads(cmd.Context(), olderThan)
			fmt.Fprintf(cmd.OutOrStdout(), "aborted %d uploads\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "only abort uploads initiated before this long ago")
	return cmd
}

func cmdCheck(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Open every store and probe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores(cmd.Context(), g)
			if err != nil {
				return err
			}
			failed := stores.Check(cmd.Context())
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range stores.Names() {
				status := "ok"
				if err := failed[name]; err != nil {
					status = err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d stores failed", len(failed), len(stores.Names()))
			}
			return nil
		},
	}
}
