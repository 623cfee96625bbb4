// Package cmd implements the yaffs2 command-line tool: a small cobra tree
// of format/fsck/ls/cat/checkpoint commands over pkg/yaffs2.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nandfs/yaffs2go/internal/yerrors"
	"github.com/nandfs/yaffs2go/pkg/yaffs2"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string

	imagePath      string
	configPath     string
	chunkSize      uint32
	spareSize      uint32
	chunksPerBlock uint32
	numBlocks      uint32
)

var rootCmd = &cobra.Command{
	Use:   "yaffs2",
	Short: "Work directly with a yaffs2 log-structured flash filesystem image",
	Long: `yaffs2 mounts, formats and inspects a yaffs2-format NAND flash image
backed by a flat file (see internal/nand/filedriver), without needing real
MTD hardware.

Commands:
  format      Erase and initialize a blank image
  fsck        Mount (full scan) and report device stats
  ls          List a directory's entries
  cat         Print a file's contents
  checkpoint  Save or restore the mount-time checkpoint stream`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")

	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "yaffs2.img", "path to the backing NAND image file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional yaffs2.yaml mount-option file")
	rootCmd.PersistentFlags().Uint32Var(&chunkSize, "chunk-size", 2048, "chunk (page) data size in bytes")
	rootCmd.PersistentFlags().Uint32Var(&spareSize, "spare-size", 64, "spare (OOB) area size in bytes")
	rootCmd.PersistentFlags().Uint32Var(&chunksPerBlock, "chunks-per-block", 64, "chunks per erase block")
	rootCmd.PersistentFlags().Uint32Var(&numBlocks, "blocks", 512, "number of erase blocks in the image")
}

// GetVerbose returns the verbose flag value.
func GetVerbose() bool { return verbose }

// GetQuiet returns the quiet flag value.
func GetQuiet() bool { return quiet }

// GetOutputFormat returns the output format.
func GetOutputFormat() string { return outputFormat }

// openFileSystem loads mount options via internal/config and opens (mounting
// or, on a blank image, formatting) the image named by --image. Every
// subcommand but format shares this one construction path.
func openFileSystem() (*yaffs2.FileSystem, error) {
	opt, err := yaffs2.LoadOptions(configPath)
	if err != nil {
		return nil, fmt.Errorf("load mount options: %w", err)
	}
	return yaffs2.OpenFileImage(imagePath, chunkSize, spareSize, chunksPerBlock, numBlocks, opt, nil)
}

// splitPath breaks a slash-separated path into its non-empty components.
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolvePath walks slash-separated name components from the root,
// returning the final node (§4.K find_by_name, applied repeatedly).
func resolvePath(f *yaffs2.FileSystem, path string) (*yaffs2.Node, error) {
	node := f.Root()
	for _, part := range splitPath(path) {
		child, ok := f.Lookup(node, part)
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, yerrors.ErrNoSuchObject)
		}
		node = child
	}
	return node, nil
}
