package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nandfs/yaffs2go/pkg/yaffs2"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Erase every block and initialize a blank yaffs2 image",
	Long: `format creates --image (if it doesn't already exist, sized by
--chunk-size/--spare-size/--chunks-per-block/--blocks) and writes the
reserved root, lost+found, unlinked and deleted objects to it, discarding
any prior contents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormat()
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
}

func runFormat() error {
	opt, err := yaffs2.LoadOptions(configPath)
	if err != nil {
		return fmt.Errorf("format: load mount options: %w", err)
	}
	f, err := yaffs2.FormatFileImage(imagePath, chunkSize, spareSize, chunksPerBlock, numBlocks, opt, nil)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	defer f.Close(nil)

	if !GetQuiet() {
		fmt.Printf("formatted %s\n", imagePath)
	}
	return nil
}
