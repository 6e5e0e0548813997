package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synctree/synctree"
)

var writeEncrypt bool

var writeCmd = &cobra.Command{
	Use:   "write <path> <local-file>",
	Short: "Write local file content to a tree path",
	Long:  "Store a local file in the blob store and point the tree path at the resulting CID. With --encrypt the payload is encrypted under a fresh single-use key printed to stderr.",
	Args:  cobra.ExactArgs(2),
	RunE:  runWrite,
}

func init() {
	writeCmd.Flags().BoolVar(&writeEncrypt, "encrypt", false, "encrypt content with a fresh key")
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	content, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	if writeEncrypt {
		payload, err := synctree.EncryptContent(synctree.GCMSuite{}, synctree.Bytes(content))
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		content = payload.Cipherbytes
		fmt.Fprintf(os.Stderr, "Key: %s\nIV:  %s\n", payload.RawKey, payload.IV)
	}

	var cid synctree.CID
	for r, err := range e.store.Add(ctx, []synctree.Entry{{Content: synctree.Bytes(content)}}, synctree.AddOptions{Pin: true}) {
		if err != nil {
			return fmt.Errorf("add content: %w", err)
		}
		cid = r.CID
	}

	target := synctree.Normalize(args[0])
	if e.idx.Content(target) == synctree.KindAbsent {
		parent, name := synctree.Split(target)
		if err := e.tree.Mkfile(parent, name); err != nil {
			return err
		}
	}
	if err := e.tree.Mutate(target, cid); err != nil {
		return err
	}

	e.tree.Flush()
	fmt.Fprintf(os.Stderr, "CID:  %s\nRoot: %s\n", cid, e.tree.Root())
	return nil
}
