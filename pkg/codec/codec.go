package codec

// CompressRequest asks for the content of SourcePath to be compressed into the
// pool range [Offset, Offset+Limit). MetaPath and FileName identify the
// destination for error messages and for implementations that keep their own
// bookkeeping.
type CompressRequest struct {
	MetaPath   string
	PoolPath   string
	SourcePath string
	FileName   string
	Offset     int64
	Limit      int64
	Algorithm  string
}

// CompressResult describes what was placed in the pool.
type CompressResult struct {
	LogicalSize int64
	StoredSize  int64
	Hash        uint64
	Algorithm   string
}

// DecompressRequest asks for a stored file to be recovered into OutputPath.
type DecompressRequest struct {
	MetaPath    string
	PoolPath    string
	FileName    string
	Offset      int64
	StoredSize  int64
	LogicalSize int64
	Hash        uint64
	Algorithm   string
	OutputPath  string
}

type ReclaimRequest struct {
	MetaPath string
	PoolPath string
	FileName string
	Offset   int64
	Size     int64
}

// Codec moves file content in and out of the pool. Calls block until the
// transformation is complete; a failed call leaves nothing the caller must
// clean up.
type Codec interface {
	Compress(req CompressRequest) (CompressResult, error)
	Decompress(req DecompressRequest) error
}

// Reclaimer gives a byte range of the pool back.
type Reclaimer interface {
	Reclaim(req ReclaimRequest) error
}
