package main

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

const rootInode = fuseops.RootInodeID

// entry is one cached artefact: a flat file named after its equivalence
// hash, exposed read-only.
type entry struct {
	inode fuseops.InodeID
	name  string
	path  string
	size  int64
}

// cacheFS is a minimal, read-only fuseutil.FileSystem presenting every
// artefact under build-cache/build as a flat listing of files named by
// their equivalence hash, so a human can `ls`/`cat` the cache without
// walking its two-level hash-prefix directory layout by hand.
type cacheFS struct {
	fuseutil.NotImplementedFileSystem

	mu      sync.Mutex
	byInode map[fuseops.InodeID]*entry
	byName  map[string]*entry
	order   []*entry
	readers map[fuseops.InodeID]*os.File
}

func newCacheFS(buildCacheDir string) (*cacheFS, error) {
	cfs := &cacheFS{
		byInode: make(map[fuseops.InodeID]*entry),
		byName:  make(map[string]*entry),
		readers: make(map[fuseops.InodeID]*os.File),
	}

	var next fuseops.InodeID = rootInode + 1
	walkErr := filepath.WalkDir(buildCacheDir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		e := &entry{inode: next, name: d.Name(), path: path, size: info.Size()}
		cfs.byInode[next] = e
		cfs.byName[e.name] = e
		cfs.order = append(cfs.order, e)
		next++
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Slice(cfs.order, func(i, j int) bool { return cfs.order[i].name < cfs.order[j].name })
	return cfs, nil
}

func (f *cacheFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == rootInode {
		op.Attributes = fuseops.InodeAttributes{Nlink: 1, Mode: os.ModeDir | 0555}
		return nil
	}
	f.mu.Lock()
	e, ok := f.byInode[op.Inode]
	f.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0444,
		Size:  uint64(e.size),
		Atime: time.Unix(0, 0),
		Mtime: time.Unix(0, 0),
		Ctime: time.Unix(0, 0),
	}
	return nil
}

func (f *cacheFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode {
		return fuse.ENOENT
	}
	f.mu.Lock()
	e, ok := f.byName[op.Name]
	f.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}
	op.Entry.Child = e.inode
	op.Entry.Attributes = fuseops.InodeAttributes{Nlink: 1, Mode: 0444, Size: uint64(e.size)}
	return nil
}

func (f *cacheFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error { return nil }

func (f *cacheFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOENT
	}
	f.mu.Lock()
	entries := make([]fuseutil.Dirent, len(f.order))
	for i, e := range f.order {
		entries[i] = fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  e.inode,
			Name:   e.name,
			Type:   fuseutil.DT_File,
		}
	}
	f.mu.Unlock()

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}
	for _, de := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], de)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (f *cacheFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	f.mu.Lock()
	e, ok := f.byInode[op.Inode]
	f.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}
	file, err := os.Open(e.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.readers[op.Inode] = file
	f.mu.Unlock()
	return nil
}

func (f *cacheFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	f.mu.Lock()
	file, ok := f.readers[op.Inode]
	f.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	n, err := file.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (f *cacheFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	f.mu.Lock()
	if file, ok := f.readers[fuseops.InodeID(op.Handle)]; ok {
		file.Close()
		delete(f.readers, fuseops.InodeID(op.Handle))
	}
	f.mu.Unlock()
	return nil
}
