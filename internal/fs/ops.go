package fs

import (
	"fmt"

	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// chunkSize is the logical (post-tag) payload size of one data chunk; file
// read/write/resize all work in terms of it.
func (d *Device) chunkSize() int {
	size := int(d.nand.Geometry.TotalBytesPerChunk)
	if d.opt.InbandTags {
		size -= d.tags.PackedLen(true)
	}
	return size
}

// FindByName looks up a child of dir by name (§4.K find_by_name).
func (d *Device) FindByName(dir *object.Object, name string) (*object.Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.FindByName(dir, name)
}

// Root returns the filesystem root directory object.
func (d *Device) Root() *object.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, _ := d.reg.FindByNumber(object.IDRoot)
	return root
}

// Readdir lists a directory's children (§4.K readdir).
func (d *Device) Readdir(dir *object.Object) ([]*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !dir.IsDir() {
		return nil, fmt.Errorf("fs: readdir: %w", yerrors.ErrNotADirectory)
	}
	out := make([]*object.Object, 0, len(dir.Dir.Children))
	for _, id := range dir.Dir.Children {
		if child, ok := d.reg.FindByNumber(id); ok {
			out = append(out, child)
		}
	}
	return out, nil
}

// CreateFile creates an empty regular file under parent (§4.K top-level
// create, routed through object.Registry.Create then given its first
// on-flash header).
func (d *Device) CreateFile(parent *object.Object, name string, mode uint32) (*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.reg.Create(parent, name, tags.ObjTypeFile)
	if err != nil {
		return nil, err
	}
	obj.Mode = mode
	d.wireTnodeScanner(obj)
	if err := d.writeHeaderLocked(obj); err != nil {
		d.reg.Remove(obj.ObjID)
		return nil, err
	}
	return obj, nil
}

// CreateDir creates a directory under parent (§4.K create_dir).
func (d *Device) CreateDir(parent *object.Object, name string, mode uint32) (*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.reg.Create(parent, name, tags.ObjTypeDirectory)
	if err != nil {
		return nil, err
	}
	obj.Mode = mode
	if err := d.writeHeaderLocked(obj); err != nil {
		d.reg.Remove(obj.ObjID)
		return nil, err
	}
	return obj, nil
}

// CreateSymlink creates a symlink under parent, pointing at target (§4.K
// create_symlink).
func (d *Device) CreateSymlink(parent *object.Object, name, target string) (*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.reg.Create(parent, name, tags.ObjTypeSymlink)
	if err != nil {
		return nil, err
	}
	obj.Symlink.Alias = target
	if err := d.writeHeaderLocked(obj); err != nil {
		d.reg.Remove(obj.ObjID)
		return nil, err
	}
	return obj, nil
}

// CreateSpecial creates a device/special node under parent (§4.K
// create_special).
func (d *Device) CreateSpecial(parent *object.Object, name string, mode, rdev uint32) (*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.reg.Create(parent, name, tags.ObjTypeSpecial)
	if err != nil {
		return nil, err
	}
	obj.Mode = mode
	obj.Special.RDev = rdev
	if err := d.writeHeaderLocked(obj); err != nil {
		d.reg.Remove(obj.ObjID)
		return nil, err
	}
	return obj, nil
}

// Link creates a hardlink under parent resolving to equiv (§4.K link).
func (d *Device) Link(parent *object.Object, name string, equiv *object.Object) (*object.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, err := d.reg.Link(parent, name, equiv)
	if err != nil {
		return nil, err
	}
	if err := d.writeHeaderLocked(obj); err != nil {
		d.reg.Remove(obj.ObjID)
		return nil, err
	}
	return obj, nil
}

// Unlink removes obj's entry from parent and moves obj under the reserved
// "unlinked" object. While a hardlink still resolves to obj, only its
// header is rewritten; an object whose last link just dropped is also
// marked deleted and queued for background chunk reclamation rather than
// deleted inline, matching §4.H's "n_bg_deletions"-driven deferred
// deletion instead of blocking the caller on a full chunk walk.
func (d *Device) Unlink(parent, obj *object.Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj.IsDir() && d.reg.IsNonEmptyDir(obj) {
		return fmt.Errorf("fs: unlink: %w", yerrors.ErrDirectoryNotEmpty)
	}
	d.reg.Unlink(obj, parent)
	if unlinked, ok := d.reg.FindByNumber(object.IDUnlinked); ok && unlinked.Dir != nil {
		d.reg.AddToDir(unlinked, obj)
	}
	linked := false
	d.reg.Walk(func(o *object.Object) {
		if o.Hardlink != nil && o.Hardlink.EquivID == obj.ObjID {
			linked = true
		}
	})
	if linked {
		return d.writeHeaderLocked(obj)
	}
	obj.Deleted = true
	if err := d.writeHeaderLocked(obj); err != nil {
		return err
	}
	if err := d.delq.Enqueue(obj.ObjID); err != nil {
		d.log.Warn("deletion queue full, deleting inline", "obj", obj.ObjID)
		return d.hardDeleteLocked(obj)
	}
	return nil
}

// Rename moves obj from oldParent to newParent under newName. An object
// already at the destination name is moved under the reserved "unlinked"
// object, its header rewritten, and queued for deletion. obj's new header
// does not record a shadows_obj reference to the displaced object.
func (d *Device) Rename(obj, oldParent, newParent *object.Object, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	shadowed, err := d.reg.Rename(obj, oldParent, newParent, newName)
	if err != nil {
		return err
	}
	if err := d.writeHeaderLocked(obj); err != nil {
		return err
	}
	if shadowed != 0 {
		if victim, ok := d.reg.FindByNumber(shadowed); ok {
			if unlinked, ok := d.reg.FindByNumber(object.IDUnlinked); ok && unlinked.Dir != nil {
				d.reg.AddToDir(unlinked, victim)
			}
			if err := d.writeHeaderLocked(victim); err != nil {
				return err
			}
			if err := d.delq.Enqueue(victim.ObjID); err != nil {
				return d.hardDeleteLocked(victim)
			}
		}
	}
	return nil
}

// SetXAttr sets one extended attribute and writes a new header (§4.K
// xattr set).
func (d *Device) SetXAttr(obj *object.Object, name string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj.XAttr == nil {
		obj.XAttr = make(map[string][]byte)
	}
	obj.XAttr[name] = append([]byte{}, value...)
	return d.writeHeaderLocked(obj)
}

// GetXAttr retrieves one extended attribute (§4.K xattr get).
func (d *Device) GetXAttr(obj *object.Object, name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := obj.XAttr[name]
	return v, ok
}

// ListXAttr lists all extended attribute names (§4.K xattr list).
func (d *Device) ListXAttr(obj *object.Object) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(obj.XAttr))
	for name := range obj.XAttr {
		names = append(names, name)
	}
	return names
}

// RemoveXAttr deletes one extended attribute and writes a new header
// (§4.K xattr remove).
func (d *Device) RemoveXAttr(obj *object.Object, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := obj.XAttr[name]; !ok {
		return fmt.Errorf("fs: remove xattr %q: %w", name, yerrors.ErrNoSuchObject)
	}
	delete(obj.XAttr, name)
	return d.writeHeaderLocked(obj)
}

// hardDeleteLocked reclaims every chunk owned by obj immediately: its data
// chunks (marked deleted so GC can reclaim their blocks) and finally its
// header chunk, then drops it from the registry.
func (d *Device) hardDeleteLocked(obj *object.Object) error {
	if obj.File != nil {
		obj.File.Tnodes.Walk(func(_, physChunk uint32) {
			d.tbl.MarkDeleted(physChunk)
		})
	}
	if obj.HdrChunk != 0 {
		d.tbl.MarkDeleted(obj.HdrChunk)
	}
	d.reg.Remove(obj.ObjID)
	d.stats.BackgroundDeletes++
	return nil
}

// DrainOneDeletion processes a single queued background deletion, the
// bounded-slice counterpart to RunGC (§4.H "unlinked_deletion").
func (d *Device) DrainOneDeletion() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	objID, ok := d.delq.DrainOne()
	if !ok {
		return false, nil
	}
	obj, ok := d.reg.FindByNumber(objID)
	if !ok {
		return true, nil
	}
	return true, d.hardDeleteLocked(obj)
}
