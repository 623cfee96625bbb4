package yaffs2

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nandfs/yaffs2go/internal/fs"
)

func testGeometry() (chunkSize, spareSize, chunksPerBlock, numBlocks uint32) {
	return 2048, 64, 64, 16
}

func TestOpenFileImageFormatsBlankImage(t *testing.T) {
	chunkSize, spareSize, chunksPerBlock, numBlocks := testGeometry()
	path := filepath.Join(t.TempDir(), "nand.img")

	fsys, err := OpenFileImage(path, chunkSize, spareSize, chunksPerBlock, numBlocks, fs.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("OpenFileImage: %v", err)
	}

	root := fsys.Root()
	if root == nil {
		t.Fatal("Root should not be nil after format")
	}

	if err := fsys.Close(nil); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileSystemCreateWriteReadRoundTrip(t *testing.T) {
	chunkSize, spareSize, chunksPerBlock, numBlocks := testGeometry()
	path := filepath.Join(t.TempDir(), "nand.img")

	fsys, err := OpenFileImage(path, chunkSize, spareSize, chunksPerBlock, numBlocks, fs.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("OpenFileImage: %v", err)
	}

	root := fsys.Root()
	f, err := fsys.CreateFile(root, "hello.txt", 0644)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	payload := []byte("hand in hand through the log")
	if _, err := fsys.Write(f, 0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fsys.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := make([]byte, len(payload))
	n, err := fsys.Read(f, 0, out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) || !bytes.Equal(out, payload) {
		t.Errorf("round trip mismatch: got %q, want %q", out[:n], payload)
	}

	found, ok := fsys.Lookup(root, "hello.txt")
	if !ok || found.ObjID != f.ObjID {
		t.Error("Lookup should resolve the created file by name")
	}

	entries, err := fsys.Readdir(root)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("Readdir should list at least the created file")
	}
}

func TestFileSystemXAttrRoundTrip(t *testing.T) {
	chunkSize, spareSize, chunksPerBlock, numBlocks := testGeometry()
	path := filepath.Join(t.TempDir(), "nand.img")

	fsys, err := OpenFileImage(path, chunkSize, spareSize, chunksPerBlock, numBlocks, fs.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("OpenFileImage: %v", err)
	}

	root := fsys.Root()
	f, err := fsys.CreateFile(root, "tagged.bin", 0644)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := fsys.SetXAttr(f, "user.note", []byte("grounded")); err != nil {
		t.Fatalf("SetXAttr: %v", err)
	}
	v, ok := fsys.GetXAttr(f, "user.note")
	if !ok || string(v) != "grounded" {
		t.Errorf("GetXAttr = %q, %v; want %q, true", v, ok, "grounded")
	}
	names := fsys.ListXAttr(f)
	if len(names) != 1 || names[0] != "user.note" {
		t.Errorf("ListXAttr = %v; want [user.note]", names)
	}
	if err := fsys.RemoveXAttr(f, "user.note"); err != nil {
		t.Fatalf("RemoveXAttr: %v", err)
	}
	if _, ok := fsys.GetXAttr(f, "user.note"); ok {
		t.Error("GetXAttr should report missing after RemoveXAttr")
	}
}

func TestLoadOptionsAppliesDefaults(t *testing.T) {
	opt, err := LoadOptions("")
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if !opt.TagsECC {
		t.Error("LoadOptions should default tags_ecc to true")
	}
	if opt.ReservedBlocks != 2 {
		t.Errorf("ReservedBlocks = %d, want 2", opt.ReservedBlocks)
	}
}
