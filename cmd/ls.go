package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory's entries",
	Long: `ls resolves path (default "/") from the root by repeated
find_by_name lookups, then lists its children (§4.K readdir).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}
		return runLs(path)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(path string) error {
	f, err := openFileSystem()
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}
	defer f.Close(nil)

	dir, err := resolvePath(f, path)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}

	entries, err := f.Readdir(dir)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}

	for _, e := range entries {
		kind := "-"
		switch {
		case e.IsDir():
			kind = "d"
		case e.Symlink != nil:
			kind = "l"
		case e.Hardlink != nil:
			kind = "h"
		case e.Special != nil:
			kind = "s"
		}
		size := uint64(0)
		if e.File != nil {
			size = e.File.FileSize
		}
		fmt.Printf("%s %8d  %s\n", kind, size, e.Name)
	}
	return nil
}
