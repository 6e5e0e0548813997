package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/synctree/synctree"
	"github.com/synctree/synctree/internal/remote"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the materialized snapshot to the configured registry",
	Args:  cobra.NoArgs,
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func openRemote(e *env) (*remote.Remote, error) {
	ref := viper.GetString("remote")
	if ref == "" {
		return nil, synctree.ErrNoRemote
	}
	return remote.New(ref, remote.WithLogger(e.log))
}

func runPush(cmd *cobra.Command, args []string) error {
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

	e.tree.Flush()
	root := e.tree.Root()

	objects := make(map[string][]byte)
	err = e.store.Walk(func(cid synctree.CID) error {
		encoded, err := e.store.Object(cid)
		if err != nil {
			return err
		}
		objects[string(cid)] = encoded
		return nil
	})
	if err != nil {
		return fmt.Errorf("collect objects: %w", err)
	}

	if err := r.Push(ctx, string(root), objects); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Pushed %s (%d objects) to %s\n", root, len(objects), r)
	return nil
}
