package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/synctree/synctree"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path> <local-dir>",
	Short: "Upload a local directory under a tree path",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	entries, err := collectEntries(args[1])
	if err != nil {
		return err
	}

	results := e.store.Add(ctx, entries, synctree.AddOptions{Pin: true, WrapWithDirectory: true})
	if err := e.tree.Upload(ctx, args[0], results); err != nil {
		return err
	}

	e.tree.Flush()
	fmt.Fprintf(os.Stderr, "Root: %s\n", e.tree.Root())
	return nil
}

// collectEntries walks a local directory into blob-store entries with
// lazy content streams.
func collectEntries(dir string) ([]synctree.Entry, error) {
	var entries []synctree.Entry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			entries = append(entries, synctree.Entry{Path: rel})
			return nil
		}
		local := p
		entries = append(entries, synctree.Entry{
			Path: rel,
			Content: func(yield func([]byte, error) bool) {
				data, err := os.ReadFile(local)
				if err != nil {
					yield(nil, err)
					return
				}
				yield(data, nil)
			},
		})
		return nil
	})
	return entries, err
}
