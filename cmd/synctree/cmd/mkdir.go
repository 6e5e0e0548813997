package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synctree/synctree"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkdir,
}

var mkfileCmd = &cobra.Command{
	Use:   "mkfile <path>",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkfile,
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(mkfileCmd)
}

func runMkdir(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()

	parent, name := synctree.Split(args[0])
	if err := e.tree.Mkdir(parent, name); err != nil {
		return err
	}
	e.tree.Flush()
	fmt.Fprintf(os.Stderr, "Root: %s\n", e.tree.Root())
	return nil
}

func runMkfile(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()

	parent, name := synctree.Split(args[0])
	if err := e.tree.Mkfile(parent, name); err != nil {
		return err
	}
	e.tree.Flush()
	fmt.Fprintf(os.Stderr, "Root: %s\n", e.tree.Root())
	return nil
}
