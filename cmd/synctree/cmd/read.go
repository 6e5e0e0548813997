package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read [path]",
	Short: "Print the materialized CID for a path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRead,
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List directory entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(lsCmd)
}

func argPath(args []string) string {
	if len(args) == 0 {
		return "/"
	}
	return args[0]
}

func runRead(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()

	e.tree.Flush()
	cid, err := e.tree.Read(context.Background(), argPath(args))
	if err != nil {
		return err
	}
	fmt.Println(cid)
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	e, cleanup, err := openEnv()
	if err != nil {
		return err
	}
	defer cleanup()

	names, err := e.idx.Ls(argPath(args))
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
