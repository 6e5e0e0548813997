package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synctree/synctree"
	"github.com/synctree/synctree/internal/index"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the shared snapshot and rebuild the local tree",
	Args:  cobra.NoArgs,
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	r, err := openRemote(e)
	if err != nil {
		return err
	}

	rootCID, objects, err := r.Pull(ctx)
	if err != nil {
		return err
	}
	root, err := synctree.ParseCID.Parse(rootCID)
	if err != nil {
		return fmt.Errorf("remote root: %w", err)
	}

	for cid, encoded := range objects {
		if err := e.store.ImportObject(ctx, synctree.CID(cid), encoded); err != nil {
			return fmt.Errorf("import %s: %w", cid, err)
		}
	}

	snap := synctree.NewSnapshot(root, e.store)
	changes := make(map[string]*index.Entry)
	if err := collectSnapshot(ctx, snap, synctree.RootPath, changes); err != nil {
		return fmt.Errorf("walk snapshot: %w", err)
	}

	// Paths absent from the snapshot are deleted locally so the pulled
	// state fully replaces the previous tree.
	for p := range e.idx.Entries() {
		if p == synctree.RootPath {
			continue
		}
		if _, ok := changes[p]; !ok {
			changes[p] = nil
		}
	}

	if err := e.idx.Merge(changes); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}

	e.tree.Flush()
	fmt.Fprintf(os.Stderr, "Pulled %s (%d objects) from %s\n", root, len(objects), r)
	return nil
}

func collectSnapshot(ctx context.Context, snap *synctree.Snapshot, dir string, changes map[string]*index.Entry) error {
	entries, err := snap.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		p := synctree.Join(dir, entry.Name)
		if entry.Dir {
			changes[p] = &index.Entry{Kind: synctree.KindDir}
			if err := collectSnapshot(ctx, snap, p, changes); err != nil {
				return err
			}
			continue
		}
		changes[p] = &index.Entry{Kind: synctree.KindFile, CID: string(entry.CID)}
	}
	return nil
}
