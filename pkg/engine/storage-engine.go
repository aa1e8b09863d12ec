package engine

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"vdisk/pkg/cache"
	"vdisk/pkg/cachemanager"
	"vdisk/pkg/codec"
	"vdisk/pkg/filetable"
	"vdisk/pkg/metadata"
	"vdisk/pkg/metrics"
	"vdisk/pkg/models"
	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
	"vdisk/pkg/utils/logger"
)

const (
	OpCreateDisk = "create_disk"
	OpWriteFile  = "write_file"
	OpReadFile   = "read_file"
	OpDeleteFile = "delete_file"
	OpListFiles  = "list_files"
)

// Dependencies are the collaborators of a StorageEngine. Nil fields are
// built from the config.
type Dependencies struct {
	Codec     codec.Codec
	Reclaimer codec.Reclaimer
	Cache     cache.ICache
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// StorageEngine runs every operation as Validate, Execute, Persist, Report.
// It assumes it is the only process using the pool and its metadata files.
type StorageEngine struct {
	config       *models.VdiskConfig
	pool         *pool.Pool
	codec        codec.Codec
	reclaimer    codec.Reclaimer
	cacheManager *cachemanager.CacheManager
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

// InstantiateStorageEngine loads the config at configPath and opens the pool
// it names.
func InstantiateStorageEngine(configPath string) (*StorageEngine, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewStorageEngine(config, Dependencies{})
}

func NewStorageEngine(config *models.VdiskConfig, deps Dependencies) (_ *StorageEngine, err error) {
	if err := ApplyDefaults(config, ""); err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger, err = logger.NewLogger(config.Log)
		if err != nil {
			return nil, errors.Wrapf(storeerr.ErrIO, "unable to instantiate the logger: %v", err)
		}
		defer func() {
			if err != nil {
				deps.Logger.Close()
			}
		}()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	if deps.Codec == nil {
		deps.Codec, err = codec.NewPoolCodec(config.Codec.Algorithm)
		if err != nil {
			return nil, err
		}
	}
	if deps.Reclaimer == nil {
		deps.Reclaimer = codec.ZeroReclaimer{ChunkSize: int(config.Pool.ChunkSize)}
	}

	p, err := openOrCreatePool(config.Pool, deps.Logger)
	if err != nil {
		return nil, err
	}
	if deps.Cache == nil {
		switch config.Cache.Type {
		case models.CACHE_TYPE_MEMORY:
			deps.Cache = cache.NewMemoryCache()
		default:
			// entries of a pool that was deleted and created again stay unreachable
			dc := cache.NewDirCache(filepath.Join(config.Cache.Dir, p.ID))
			deps.Logger.Debug(fmt.Sprintf("Caching recovered files under %s", dc.Root()))
			deps.Cache = dc
		}
	}
	deps.Metrics.SetPool(p.Allocated(), p.Capacity)

	return &StorageEngine{
		config:       config,
		pool:         p,
		codec:        deps.Codec,
		reclaimer:    deps.Reclaimer,
		cacheManager: cachemanager.NewCacheManager(deps.Cache, deps.Metrics),
		logger:       deps.Logger,
		metrics:      deps.Metrics,
	}, nil
}

func openOrCreatePool(cfg *models.PoolConfig, log *logger.Logger) (*pool.Pool, error) {
	p, err := pool.OpenPool(cfg.Path)
	if err == nil {
		log.Debug(fmt.Sprintf("Opened pool %s: %s of %s allocated to %d disks",
			p.Path, humanize.IBytes(uint64(p.Allocated())), humanize.IBytes(uint64(p.Capacity)), len(p.Disks)))
		return p, nil
	}
	if !errors.Is(err, storeerr.ErrNotFound) || !*cfg.AutoCreate {
		return nil, err
	}

	log.Info(fmt.Sprintf("Creating pool %s of %s", cfg.Path, cfg.Capacity))
	return pool.CreatePool(cfg.Path, int64(cfg.Capacity), int(cfg.ChunkSize))
}

func (engine *StorageEngine) Config() *models.VdiskConfig {
	return engine.config
}

// Pool returns the layout of the pool. Callers must not modify it.
func (engine *StorageEngine) Pool() *pool.Pool {
	return engine.pool
}

func (engine *StorageEngine) Metrics() *metrics.Metrics {
	return engine.metrics
}

// Disks lists the disk assignments in allocation order.
func (engine *StorageEngine) Disks() []pool.Assignment {
	return slices.Clone(engine.pool.Disks)
}

// ResolveDisk finds the disk whose metadata lives at metaPath.
func (engine *StorageEngine) ResolveDisk(metaPath string) (string, error) {
	abs, err := filepath.Abs(metaPath)
	if err != nil {
		return "", errors.Wrapf(storeerr.ErrInvalidArgument, "metadata path %s: %v", metaPath, err)
	}
	for _, a := range engine.pool.Disks {
		if a.MetaPath == abs {
			return a.Name, nil
		}
	}
	return "", errors.Wrapf(storeerr.ErrNotFound, "no disk of pool %s uses metadata %s", engine.pool.Path, abs)
}

func (engine *StorageEngine) report(op, disk, file string, start time.Time, err error) {
	elapsed := time.Since(start)
	engine.metrics.RecordOperation(op, err, elapsed)
	engine.logger.Op(op, disk, file, elapsed, err)
}

// loadDisk reads the metadata of disk and checks it against the pool layout.
func (engine *StorageEngine) loadDisk(disk string) (*metadata.VirtualDisk, pool.Assignment, error) {
	a, ok := engine.pool.Assignment(disk)
	if !ok {
		return nil, pool.Assignment{}, errors.Wrapf(storeerr.ErrNotFound, "disk %q is not in pool %s", disk, engine.pool.Path)
	}
	d, err := metadata.Load(a.MetaPath)
	if err != nil {
		return nil, pool.Assignment{}, err
	}
	if d.Name != a.Name || d.StartOffset != a.StartOffset || d.Size != a.Size {
		return nil, pool.Assignment{}, errors.Wrapf(storeerr.ErrCorruptMetadata,
			"metadata %s describes disk %q at [%d, %d), pool layout has %q at [%d, %d)",
			a.MetaPath, d.Name, d.StartOffset, d.StartOffset+d.Size, a.Name, a.StartOffset, a.End())
	}
	return d, a, nil
}

// CreateDisk assigns size bytes of the pool to a new disk and writes its empty
// metadata record to metaPath. The assignment is undone when the record
// cannot be written.
func (engine *StorageEngine) CreateDisk(name string, size int64, metaPath string) (_ *metadata.VirtualDisk, err error) {
	start := time.Now()
	defer func() { engine.report(OpCreateDisk, name, "", start, err) }()

	// Validate
	if name == "" {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument, errors.New("disk name should not be empty"))
	}
	if size <= 0 {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument,
			errors.Errorf("disk size should be positive, got: %d", size))
	}
	if metaPath == "" {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument, errors.New("metadata path should not be empty"))
	}
	absMeta, err := filepath.Abs(metaPath)
	if err != nil {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument, err)
	}
	if _, err := os.Stat(absMeta); err == nil {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument,
			errors.Errorf("metadata %s already exists", absMeta))
	}
	if other, err := engine.ResolveDisk(absMeta); err == nil {
		return nil, storeerr.E(OpCreateDisk, name, "", storeerr.ErrInvalidArgument,
			errors.Errorf("metadata %s is registered to disk %q", absMeta, other))
	}

	// Execute
	a, err := engine.pool.AllocateDisk(name, size, absMeta)
	if err != nil {
		return nil, storeerr.Wrap(OpCreateDisk, name, "", err)
	}

	// Persist
	d := metadata.NewVirtualDisk(a.Name, a.StartOffset, a.Size)
	if err := metadata.Save(absMeta, d); err != nil {
		if rerr := engine.pool.ReleaseDisk(name); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		return nil, storeerr.Wrap(OpCreateDisk, name, "", err)
	}

	// Report
	engine.metrics.SetPool(engine.pool.Allocated(), engine.pool.Capacity)
	engine.logger.Info(fmt.Sprintf("Created disk %s at pool offset %d with %s (%d bytes), %s of the pool left",
		name, a.StartOffset, humanize.IBytes(uint64(a.Size)), a.Size, humanize.IBytes(uint64(engine.pool.Free()))))
	return d, nil
}

// WriteFile stores the file at sourcePath on disk under its sanitized base
// name, replacing any file of that name. A failed compress leaves the
// metadata untouched.
func (engine *StorageEngine) WriteFile(disk, sourcePath string) (_ filetable.StoredFile, err error) {
	name := fs.SanitizeFileName(sourcePath)
	start := time.Now()
	defer func() { engine.report(OpWriteFile, disk, name, start, err) }()

	// Validate
	info, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrNotFound,
				errors.Errorf("input file %s does not exist", sourcePath))
		}
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrInvalidArgument,
			errors.Errorf("input %s is not a regular file", sourcePath))
	}
	if name == "" {
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrInvalidArgument,
			errors.Errorf("no usable file name in %q", sourcePath))
	}
	d, a, err := engine.loadDisk(disk)
	if err != nil {
		return filetable.StoredFile{}, storeerr.Wrap(OpWriteFile, disk, name, err)
	}

	// Execute
	slot, remaining := d.NextSlot()
	engine.logger.Debug(fmt.Sprintf("Writing %s to disk %s at offset %d, %d bytes left, %d bytes lost to holes",
		name, disk, slot, remaining, slot-d.Files.UsedBytes()))
	engine.metrics.RecordCall("compress")
	res, err := engine.codec.Compress(codec.CompressRequest{
		MetaPath:   a.MetaPath,
		PoolPath:   engine.pool.Path,
		SourcePath: sourcePath,
		FileName:   name,
		Offset:     d.PoolOffset(slot),
		Limit:      remaining,
		Algorithm:  engine.config.Codec.Algorithm,
	})
	if err != nil {
		kind := storeerr.ErrCollaboratorFailure
		if errors.Is(err, storeerr.ErrCapacityExceeded) {
			kind = storeerr.ErrCapacityExceeded
		}
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, kind, err)
	}

	// a cached copy must never outlive the descriptor it was read through
	if err := engine.cacheManager.Invalidate(disk, name); err != nil {
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrIO,
			errors.Wrap(err, "cached copy could not be removed, file left unchanged"))
	}

	// Persist
	sf := filetable.StoredFile{
		Name:         name,
		LogicalSize:  res.LogicalSize,
		StoredOffset: slot,
		StoredSize:   res.StoredSize,
		Hash:         res.Hash,
		Algorithm:    res.Algorithm,
	}
	prev, replaced, err := d.PutFile(sf)
	if err != nil {
		return filetable.StoredFile{}, storeerr.E(OpWriteFile, disk, name, storeerr.ErrCollaboratorFailure,
			errors.Wrap(err, "codec wrote outside the assigned range"))
	}
	if err := metadata.Save(a.MetaPath, d); err != nil {
		return filetable.StoredFile{}, storeerr.Wrap(OpWriteFile, disk, name, err)
	}
	engine.metrics.RecordWrite(res.LogicalSize, res.StoredSize)

	if replaced {
		if err := engine.reclaim(a, prev); err != nil {
			return sf, storeerr.E(OpWriteFile, disk, name, storeerr.ErrCollaboratorFailure,
				errors.Wrapf(err, "file replaced but reclaiming its previous range [%d, %d) failed", prev.StoredOffset, prev.End()))
		}
		engine.logger.Warn(fmt.Sprintf("Replaced %s on disk %s; its previous %d bytes at offset %d were reclaimed but stay unused",
			name, disk, prev.StoredSize, prev.StoredOffset))
	}

	// Report
	engine.logger.Info(fmt.Sprintf("Stored %s on disk %s: %s as %s with %s",
		name, disk, humanize.IBytes(uint64(sf.LogicalSize)), humanize.IBytes(uint64(sf.StoredSize)), sf.Algorithm))
	return sf, nil
}

func (engine *StorageEngine) reclaim(a pool.Assignment, f filetable.StoredFile) error {
	engine.metrics.RecordCall("reclaim")
	err := engine.reclaimer.Reclaim(codec.ReclaimRequest{
		MetaPath: a.MetaPath,
		PoolPath: engine.pool.Path,
		FileName: f.Name,
		Offset:   a.StartOffset + f.StoredOffset,
		Size:     f.StoredSize,
	})
	if err == nil {
		engine.metrics.RecordReclaim(f.StoredSize)
	}
	return err
}

// ReadFile returns the content of name on disk. The cache is consulted
// first; a hit touches neither the pool nor the codec. A failing cache is
// logged and bypassed.
func (engine *StorageEngine) ReadFile(disk, name string) (_ []byte, err error) {
	start := time.Now()
	defer func() { engine.report(OpReadFile, disk, name, start, err) }()

	if data, ok, err := engine.cacheManager.Get(disk, name); err != nil {
		engine.logger.Warn(fmt.Sprintf("Cache lookup for %s on disk %s failed, reading from the pool: %v", name, disk, err))
	} else if ok {
		engine.logger.Debug(fmt.Sprintf("Cache HIT for %s on disk %s", name, disk))
		engine.metrics.RecordRead(int64(len(data)))
		return data, nil
	}
	engine.logger.Debug(fmt.Sprintf("Cache MISS for %s on disk %s", name, disk))

	// Validate
	d, a, err := engine.loadDisk(disk)
	if err != nil {
		return nil, storeerr.Wrap(OpReadFile, disk, name, err)
	}
	sf, ok := d.Files.Lookup(name)
	if !ok {
		return nil, storeerr.E(OpReadFile, disk, name, storeerr.ErrNotFound, nil)
	}

	// Execute
	data, err := engine.decompress(a, sf)
	if err != nil {
		return nil, err
	}

	// Persist
	if err := engine.cacheManager.Put(disk, name, data); err != nil {
		engine.logger.Warn(fmt.Sprintf("Unable to cache %s on disk %s: %v", name, disk, err))
	}

	// Report
	engine.metrics.RecordRead(int64(len(data)))
	return data, nil
}

// decompress recovers sf into a scratch file and reads it back.
func (engine *StorageEngine) decompress(a pool.Assignment, sf filetable.StoredFile) ([]byte, error) {
	scratchDir := engine.config.Codec.ScratchDir
	if err := fs.EnsureDir(scratchDir); err != nil {
		return nil, storeerr.E(OpReadFile, a.Name, sf.Name, storeerr.ErrIO, err)
	}
	out := filepath.Join(scratchDir, uuid.NewString())
	defer os.Remove(out)

	engine.metrics.RecordCall("decompress")
	err := engine.codec.Decompress(codec.DecompressRequest{
		MetaPath:    a.MetaPath,
		PoolPath:    engine.pool.Path,
		FileName:    sf.Name,
		Offset:      a.StartOffset + sf.StoredOffset,
		StoredSize:  sf.StoredSize,
		LogicalSize: sf.LogicalSize,
		Hash:        sf.Hash,
		Algorithm:   sf.Algorithm,
		OutputPath:  out,
	})
	if err != nil {
		return nil, storeerr.E(OpReadFile, a.Name, sf.Name, storeerr.ErrCollaboratorFailure, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, storeerr.E(OpReadFile, a.Name, sf.Name, storeerr.ErrCollaboratorFailure,
			errors.Wrap(err, "codec reported success but left no output"))
	}
	return data, nil
}

// DeleteFile reclaims the range of name and drops it from the disk. When the
// cache cannot be cleared or the reclaim fails the file stays in the table.
func (engine *StorageEngine) DeleteFile(disk, name string) (err error) {
	start := time.Now()
	defer func() { engine.report(OpDeleteFile, disk, name, start, err) }()

	// Validate
	d, a, err := engine.loadDisk(disk)
	if err != nil {
		return storeerr.Wrap(OpDeleteFile, disk, name, err)
	}
	sf, ok := d.Files.Lookup(name)
	if !ok {
		return storeerr.E(OpDeleteFile, disk, name, storeerr.ErrNotFound, nil)
	}

	// Execute
	if err := engine.cacheManager.Invalidate(disk, name); err != nil {
		return storeerr.E(OpDeleteFile, disk, name, storeerr.ErrIO,
			errors.Wrap(err, "cached copy could not be removed, file left in place"))
	}
	if err := engine.reclaim(a, sf); err != nil {
		return storeerr.E(OpDeleteFile, disk, name, storeerr.ErrCollaboratorFailure, err)
	}

	// Persist
	if _, err := d.Files.Remove(name); err != nil {
		return storeerr.Wrap(OpDeleteFile, disk, name, err)
	}
	if err := metadata.Save(a.MetaPath, d); err != nil {
		return storeerr.Wrap(OpDeleteFile, disk, name, err)
	}

	// Report
	engine.logger.Info(fmt.Sprintf("Deleted %s from disk %s, reclaimed %d bytes", name, disk, sf.StoredSize))
	return nil
}

// ListFiles returns the files of disk ordered by name. The sequence is a
// snapshot and may be ranged over any number of times.
func (engine *StorageEngine) ListFiles(disk string) (_ iter.Seq[filetable.StoredFile], err error) {
	start := time.Now()
	defer func() { engine.report(OpListFiles, disk, "", start, err) }()

	d, _, err := engine.loadDisk(disk)
	if err != nil {
		return nil, storeerr.Wrap(OpListFiles, disk, "", err)
	}
	return metadata.List(d), nil
}

// Close releases the cache and the logger and, when enabled, writes the
// metrics textfile.
func (engine *StorageEngine) Close() error {
	var err error
	if engine.config.Metrics.Enabled {
		if merr := fs.EnsureDir(filepath.Dir(engine.config.Metrics.TextfilePath)); merr != nil {
			err = multierr.Append(err, merr)
		} else {
			err = multierr.Append(err, engine.metrics.WriteTextfile(engine.config.Metrics.TextfilePath))
		}
	}
	err = multierr.Append(err, engine.cacheManager.Close())
	err = multierr.Append(err, engine.logger.Close())
	return err
}
