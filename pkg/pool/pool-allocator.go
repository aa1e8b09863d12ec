package pool

import (
	"bytes"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

const (
	// DefaultChunkSize is the size of the zero buffer used to fill the pool.
	DefaultChunkSize = 4 * 1024
	// DefaultCapacity is 1GiB.
	DefaultCapacity = 1 << 30

	layoutVersion = 1
	layoutSuffix  = ".layout.yaml"
)

// Assignment is the byte range of the pool owned by one virtual disk.
type Assignment struct {
	Name        string `yaml:"name"`
	StartOffset int64  `yaml:"startOffset"`
	Size        int64  `yaml:"size"`
	MetaPath    string `yaml:"meta"`
}

func (a Assignment) End() int64 {
	return a.StartOffset + a.Size
}

type layoutRecord struct {
	Version  int          `yaml:"version"`
	ID       string       `yaml:"id"`
	Capacity int64        `yaml:"capacity"`
	Disks    []Assignment `yaml:"disks"`
}

// Pool is the single backing file that all virtual disks live in. Disks are
// kept in allocation order. ID is fixed at creation, so a pool recreated at
// the same path is told apart from the one it replaced.
type Pool struct {
	Path     string
	ID       string
	Capacity int64
	Disks    []Assignment
}

// LayoutPath is where the allocation record of the pool at poolPath lives.
func LayoutPath(poolPath string) string {
	return poolPath + layoutSuffix
}

// CreatePool allocates a zero-filled pool of exactly capacity bytes. The file
// is written chunkSize bytes at a time so memory use does not depend on
// capacity. An existing pool is never overwritten.
func CreatePool(path string, capacity int64, chunkSize int) (_ *Pool, err error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(storeerr.ErrInvalidArgument, "pool capacity should be positive, got: %d", capacity)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(storeerr.ErrInvalidArgument, "pool %s already exists", path)
		}
		return nil, errors.Wrapf(storeerr.ErrIO, "create pool %s: %v", path, err)
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()

	if err = fillZero(f, 0, capacity, chunkSize); err != nil {
		err = multierr.Append(err, f.Close())
		return nil, errors.Wrapf(storeerr.ErrIO, "fill pool %s: %v", path, err)
	}
	if err = multierr.Append(f.Sync(), f.Close()); err != nil {
		return nil, errors.Wrapf(storeerr.ErrIO, "close pool %s: %v", path, err)
	}

	p := &Pool{Path: path, ID: uuid.NewString(), Capacity: capacity}
	if err = p.save(); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenPool loads the pool at path together with its allocation record.
func OpenPool(path string) (*Pool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(storeerr.ErrNotFound, "pool %s does not exist", path)
		}
		return nil, errors.Wrapf(storeerr.ErrIO, "stat pool %s: %v", path, err)
	}

	data, err := os.ReadFile(LayoutPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(storeerr.ErrCorruptMetadata, "pool %s has no layout record", path)
		}
		return nil, errors.Wrapf(storeerr.ErrIO, "read layout of %s: %v", path, err)
	}

	var rec layoutRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(storeerr.ErrCorruptMetadata, "parse layout of %s: %v", path, err)
	}
	if err := rec.validate(); err != nil {
		return nil, errors.Wrapf(err, "layout of %s", path)
	}
	if info.Size() != rec.Capacity {
		return nil, errors.Wrapf(storeerr.ErrCorruptMetadata,
			"pool %s is %d bytes but layout declares %d", path, info.Size(), rec.Capacity)
	}

	return &Pool{Path: path, ID: rec.ID, Capacity: rec.Capacity, Disks: rec.Disks}, nil
}

func (rec *layoutRecord) validate() error {
	if rec.Version != layoutVersion {
		return errors.Wrapf(storeerr.ErrCorruptMetadata, "unsupported layout version %d", rec.Version)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return errors.Wrapf(storeerr.ErrCorruptMetadata, "pool id %q: %v", rec.ID, err)
	}
	if rec.Capacity <= 0 {
		return errors.Wrapf(storeerr.ErrCorruptMetadata, "capacity should be positive, got: %d", rec.Capacity)
	}

	seen := make(map[string]struct{}, len(rec.Disks))
	var prevEnd int64
	for _, d := range rec.Disks {
		if d.Name == "" {
			return errors.Wrap(storeerr.ErrCorruptMetadata, "disk with empty name")
		}
		if _, ok := seen[d.Name]; ok {
			return errors.Wrapf(storeerr.ErrCorruptMetadata, "disk %q listed twice", d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Size <= 0 || d.StartOffset < prevEnd || d.End() > rec.Capacity {
			return errors.Wrapf(storeerr.ErrCorruptMetadata,
				"disk %q range [%d, %d) overlaps or exceeds the pool", d.Name, d.StartOffset, d.End())
		}
		prevEnd = d.End()
	}
	return nil
}

func (p *Pool) save() error {
	rec := layoutRecord{Version: layoutVersion, ID: p.ID, Capacity: p.Capacity, Disks: p.Disks}
	if rec.Disks == nil {
		rec.Disks = []Assignment{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&rec); err != nil {
		return errors.Wrapf(storeerr.ErrIO, "encode layout: %v", err)
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(storeerr.ErrIO, "encode layout: %v", err)
	}

	err := fs.WriteFileAtomic(LayoutPath(p.Path), 0o644, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "save layout of %s: %v", p.Path, err)
	}
	return nil
}

// Allocated is the number of bytes assigned to disks.
func (p *Pool) Allocated() int64 {
	var n int64
	for _, d := range p.Disks {
		n += d.Size
	}
	return n
}

// Free is the number of bytes after the last allocation.
func (p *Pool) Free() int64 {
	return p.Capacity - p.nextOffset()
}

func (p *Pool) nextOffset() int64 {
	if len(p.Disks) == 0 {
		return 0
	}
	return p.Disks[len(p.Disks)-1].End()
}

func (p *Pool) Assignment(name string) (Assignment, bool) {
	for _, d := range p.Disks {
		if d.Name == name {
			return d, true
		}
	}
	return Assignment{}, false
}

// AllocateDisk assigns the next contiguous range of size bytes to name and
// persists the layout. Freed ranges are never reused.
func (p *Pool) AllocateDisk(name string, size int64, metaPath string) (Assignment, error) {
	if name == "" {
		return Assignment{}, errors.Wrap(storeerr.ErrInvalidArgument, "disk name should not be empty")
	}
	if size <= 0 {
		return Assignment{}, errors.Wrapf(storeerr.ErrInvalidArgument, "disk size should be positive, got: %d", size)
	}
	if _, ok := p.Assignment(name); ok {
		return Assignment{}, errors.Wrapf(storeerr.ErrInvalidArgument, "disk %q already exists", name)
	}

	start := p.nextOffset()
	if size > p.Capacity-start {
		return Assignment{}, errors.Wrapf(storeerr.ErrCapacityExceeded,
			"disk %q needs %d bytes, pool has %d free", name, size, p.Capacity-start)
	}

	a := Assignment{Name: name, StartOffset: start, Size: size, MetaPath: metaPath}
	p.Disks = append(p.Disks, a)
	if err := p.save(); err != nil {
		p.Disks = p.Disks[:len(p.Disks)-1]
		return Assignment{}, err
	}
	return a, nil
}

// ReleaseDisk drops the most recent allocation. It undoes AllocateDisk when
// the disk's metadata could not be written.
func (p *Pool) ReleaseDisk(name string) error {
	i := slices.IndexFunc(p.Disks, func(a Assignment) bool { return a.Name == name })
	if i < 0 {
		return errors.Wrapf(storeerr.ErrNotFound, "disk %q", name)
	}
	if i != len(p.Disks)-1 {
		return errors.Wrapf(storeerr.ErrInvalidArgument, "disk %q is not the last allocation", name)
	}

	removed := p.Disks[i]
	p.Disks = p.Disks[:i]
	if err := p.save(); err != nil {
		p.Disks = append(p.Disks, removed)
		return err
	}
	return nil
}
