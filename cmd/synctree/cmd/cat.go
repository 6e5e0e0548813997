package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synctree/synctree"
)

var (
	catKey string
	catIV  string
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print file content",
	Long:  "Fetch the content behind a file path. With --key and --iv the payload is decrypted; a failed decryption yields empty output.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	catCmd.Flags().StringVar(&catKey, "key", "", "base64 content key")
	catCmd.Flags().StringVar(&catIV, "iv", "", "base64 IV")
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	cid, err := e.tree.Read(ctx, args[0])
	if err != nil {
		return err
	}

	opts := synctree.FetchOptions{Logger: e.log}
	if catKey != "" {
		opts.Suite = synctree.GCMSuite{}
		opts.RawKey = catKey
		opts.IV = catIV
	}
	content, err := synctree.Fetch(ctx, e.store, cid, opts)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", cid, err)
	}

	_, err = os.Stdout.Write(content)
	return err
}
