package object

import (
	"fmt"

	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// Registry is the 256-bucket hash table of live objects, keyed by obj_id,
// plus the bookkeeping operations of §4.D: create, unlink, rename, link,
// retype, find_by_name, find_by_number.
type Registry struct {
	buckets    [NumBuckets][]*Object
	nextObjID  uint32
	maxObjects int // 0 = unlimited
	count      int
	tnodeCfg   tnode.Config
}

// NewRegistry creates an empty registry. maxObjects enforces the
// `max-objects` mount option (0 disables the limit). tnodeCfg is used for
// every file object's tnode tree this registry creates (Create, Link's
// target resolution, FindOrCreatePlaceholder), per the device's configured
// wide/narrow tnode mode (§4.E, §6 narrow_tnodes).
func NewRegistry(maxObjects int, tnodeCfg tnode.Config) *Registry {
	return &Registry{nextObjID: NumBuckets + 1, maxObjects: maxObjects, tnodeCfg: tnodeCfg}
}

func bucketOf(objID uint32) int { return int(objID % uint32(NumBuckets)) }

// Insert adds obj to its hash bucket. Callers must ensure obj.ObjID is not
// already present (reuse for rescans replaces in place via Remove+Insert).
func (r *Registry) Insert(obj *Object) {
	b := bucketOf(obj.ObjID)
	r.buckets[b] = append(r.buckets[b], obj)
	r.count++
}

// Remove deletes the object with the given id from its bucket, if present.
func (r *Registry) Remove(objID uint32) {
	b := bucketOf(objID)
	list := r.buckets[b]
	for i, o := range list {
		if o.ObjID == objID {
			r.buckets[b] = append(list[:i], list[i+1:]...)
			r.count--
			return
		}
	}
}

// FindOrCreatePlaceholder returns the existing object for objID, or, if
// objID hasn't been seen yet, inserts a bare unresolved placeholder (Type
// Unknown, Fake set, a pre-allocated FileVariant) and returns that instead.
// internal/scan uses this so a file's data chunks can be indexed by obj_id
// even when they're scanned before that object's own header chunk (the
// header lives in the block written when the file was created, which can
// have a lower sequence number than blocks holding the file's later data).
// The placeholder is filled in by Object.Fill once the header is found, or
// dropped at the end of the scan if it never is.
func (r *Registry) FindOrCreatePlaceholder(objID uint32) *Object {
	if obj, ok := r.FindByNumber(objID); ok {
		return obj
	}
	obj := &Object{
		ObjID: objID,
		Type:  tags.ObjTypeUnknown,
		Fake:  true,
		File:  &FileVariant{Tnodes: tnode.NewTree(r.tnodeCfg)},
	}
	r.Insert(obj)
	return obj
}

// FindByNumber looks up an object by its obj_id.
func (r *Registry) FindByNumber(objID uint32) (*Object, bool) {
	for _, o := range r.buckets[bucketOf(objID)] {
		if o.ObjID == objID {
			return o, true
		}
	}
	return nil, false
}

// FindByName looks up a child of dir by name.
func (r *Registry) FindByName(dir *Object, name string) (*Object, bool) {
	if dir == nil || dir.Dir == nil {
		return nil, false
	}
	for _, childID := range dir.Dir.Children {
		child, ok := r.FindByNumber(childID)
		if ok && child.Name == name {
			return child, true
		}
	}
	return nil, false
}

// AllocateObjID returns the next unused object id within the 19-bit object
// space, honoring max-objects.
func (r *Registry) AllocateObjID() (uint32, error) {
	if r.maxObjects > 0 && r.count >= r.maxObjects {
		return 0, fmt.Errorf("object: %w: max_objects=%d reached", yerrors.ErrOutOfMemory, r.maxObjects)
	}
	for {
		id := r.nextObjID
		r.nextObjID++
		if r.nextObjID > MaxObjectID {
			r.nextObjID = NumBuckets + 1
		}
		if _, exists := r.FindByNumber(id); !exists {
			return id, nil
		}
	}
}

// Create allocates a new object, links it under parent, and inserts it into
// the registry (§4.D create).
func (r *Registry) Create(parent *Object, name string, t tags.ObjType) (*Object, error) {
	if parent != nil && !parent.IsDir() {
		return nil, fmt.Errorf("object: %w: parent is not a directory", yerrors.ErrNotADirectory)
	}
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("object: %w", yerrors.ErrNameTooLong)
	}
	if parent != nil {
		if _, exists := r.FindByName(parent, name); exists {
			return nil, fmt.Errorf("object: name %q already exists", name)
		}
	}
	id, err := r.AllocateObjID()
	if err != nil {
		return nil, err
	}
	parentID := uint32(0)
	if parent != nil {
		parentID = parent.ObjID
	}
	obj := NewObjectWithConfig(id, t, parentID, name, r.tnodeCfg)
	r.Insert(obj)
	if parent != nil {
		r.AddToDir(parent, obj)
	}
	return obj, nil
}

// AddToDir appends obj to parent's sibling list.
func (r *Registry) AddToDir(parent, obj *Object) {
	parent.Dir.Children = append(parent.Dir.Children, obj.ObjID)
	obj.ParentID = parent.ObjID
}

// removeFromDir removes childID from parent's sibling list.
func (r *Registry) removeFromDir(parent *Object, childID uint32) {
	if parent == nil || parent.Dir == nil {
		return
	}
	children := parent.Dir.Children
	for i, id := range children {
		if id == childID {
			parent.Dir.Children = append(children[:i], children[i+1:]...)
			return
		}
	}
}

// IsNonEmptyDir reports whether dir has any children, for §7's
// ErrDirectoryNotEmpty on unlink/rmdir.
func (r *Registry) IsNonEmptyDir(dir *Object) bool {
	return dir.Dir != nil && len(dir.Dir.Children) > 0
}

// Rename moves obj from oldParent to newParent under newName. If a live
// object already occupies (newParent, newName), its id is returned as the
// shadowed object id so the caller can write shadows_obj on the new header
// (§4.D: "Renames that would overwrite an existing name set the new
// header's shadows_obj to the displaced id").
func (r *Registry) Rename(obj, oldParent, newParent *Object, newName string) (shadowedID uint32, err error) {
	if len(newName) > MaxNameLen {
		return 0, fmt.Errorf("object: %w", yerrors.ErrNameTooLong)
	}
	if existing, ok := r.FindByName(newParent, newName); ok && existing.ObjID != obj.ObjID {
		if existing.IsDir() && r.IsNonEmptyDir(existing) {
			return 0, fmt.Errorf("object: %w", yerrors.ErrDirectoryNotEmpty)
		}
		existing.IsShadowed = true
		shadowedID = existing.ObjID
		r.removeFromDir(newParent, existing.ObjID)
	}
	r.removeFromDir(oldParent, obj.ObjID)
	obj.Name = newName
	obj.ShortName = truncateShortName(newName)
	r.AddToDir(newParent, obj)
	return shadowedID, nil
}

// Link creates a hardlink named name under parent pointing at equiv.
// Hardlinks of the same target form a chain via their shared EquivID.
func (r *Registry) Link(parent *Object, name string, equiv *Object) (*Object, error) {
	if _, exists := r.FindByName(parent, name); exists {
		return nil, fmt.Errorf("object: name %q already exists", name)
	}
	id, err := r.AllocateObjID()
	if err != nil {
		return nil, err
	}
	link := NewObject(id, tags.ObjTypeHardlink, parent.ObjID, name)
	link.Hardlink.EquivID = equiv.ObjID
	r.Insert(link)
	r.AddToDir(parent, link)
	return link, nil
}

// Retype changes obj's variant_type in place, replacing its variant data
// with a freshly zeroed one of the new type (§4.D retype).
func (r *Registry) Retype(obj *Object, newType tags.ObjType) {
	obj.Type = newType
	obj.File, obj.Dir, obj.Symlink, obj.Hardlink, obj.Special = nil, nil, nil, nil, nil
	switch newType {
	case tags.ObjTypeFile:
		obj.File = &FileVariant{Tnodes: tnode.NewTree(r.tnodeCfg)}
	case tags.ObjTypeDirectory:
		obj.Dir = &DirVariant{}
	case tags.ObjTypeSymlink:
		obj.Symlink = &SymlinkVariant{}
	case tags.ObjTypeHardlink:
		obj.Hardlink = &HardlinkVariant{}
	case tags.ObjTypeSpecial:
		obj.Special = &SpecialVariant{}
	}
}

// Unlink removes obj's directory entry and marks it unlinked. The caller
// (internal/fs) is responsible for moving it under the unlinked/deleted
// pseudo-directories and for soft-deleting its data chunks.
func (r *Registry) Unlink(obj, parent *Object) {
	r.removeFromDir(parent, obj.ObjID)
	obj.Unlinked = true
}

// ResolveEquivID walks a hardlink's equiv chain to the underlying object.
// The scanner does not call it; a chain is resolved only when a caller
// asks for it.
func (r *Registry) ResolveEquivID(obj *Object) (*Object, bool) {
	seen := make(map[uint32]bool)
	cur := obj
	for cur.Type == tags.ObjTypeHardlink {
		if seen[cur.ObjID] {
			return nil, false
		}
		seen[cur.ObjID] = true
		next, ok := r.FindByNumber(cur.Hardlink.EquivID)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Walk invokes fn for every live object in the registry. Bucket order is
// not meaningful; callers needing a stable order must sort.
func (r *Registry) Walk(fn func(*Object)) {
	for _, bucket := range r.buckets {
		for _, o := range bucket {
			fn(o)
		}
	}
}

// Count returns the number of live objects tracked.
func (r *Registry) Count() int { return r.count }
