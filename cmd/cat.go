package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nandfs/yaffs2go/internal/yerrors"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCat(args[0])
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(path string) error {
	f, err := openFileSystem()
	if err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	defer f.Close(nil)

	node, err := resolvePath(f, path)
	if err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	if node.File == nil {
		return fmt.Errorf("cat: %s: %w", path, yerrors.ErrNotADirectory)
	}

	buf := make([]byte, 64*1024)
	var offset int64
	for offset < int64(node.File.FileSize) {
		n, err := f.Read(node, offset, buf)
		if err != nil {
			return fmt.Errorf("cat: %w", err)
		}
		if n == 0 {
			break
		}
		if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
			return werr
		}
		offset += int64(n)
	}
	return nil
}
