package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nandfs/yaffs2go/pkg/yaffs2"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Save or restore the mount-time checkpoint stream",
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Mount the image and save its checkpoint to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckpointSave(args[0])
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Load a saved checkpoint into a freshly opened image (in memory only; the image file is not rewritten)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckpointRestore(args[0])
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointSaveCmd, checkpointRestoreCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointSave(outPath string) error {
	f, err := openFileSystem()
	if err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	defer f.Close(nil)

	out, err := yaffs2.OpenCheckpointFile(outPath, true)
	if err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	defer out.Close()

	if err := f.SaveCheckpoint(out); err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}
	if !GetQuiet() {
		fmt.Printf("checkpoint saved to %s\n", outPath)
	}
	return nil
}

func runCheckpointRestore(inPath string) error {
	f, err := openFileSystem()
	if err != nil {
		return fmt.Errorf("checkpoint restore: %w", err)
	}
	defer f.Close(nil)

	in, err := yaffs2.OpenCheckpointFile(inPath, false)
	if err != nil {
		return fmt.Errorf("checkpoint restore: %w", err)
	}
	defer in.Close()

	if err := f.LoadCheckpoint(in); err != nil {
		return fmt.Errorf("checkpoint restore: %w", err)
	}
	if !GetQuiet() {
		fmt.Printf("checkpoint restored from %s\n", inPath)
	}
	return nil
}
