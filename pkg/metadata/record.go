package metadata

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"vdisk/pkg/filetable"
	"vdisk/pkg/storeerr"
)

// Record format, version 1. Header fields come in a fixed order and the file
// count must match the number of file lines:
//
//	vdisk-meta 1
//	disk_name: "D1"
//	start_offset: 0
//	size: 1000
//	files: 1
//	file "a.txt" logical=5 offset=0 stored=18 hash=00ab12cd34ef5678 algo=zstd
const (
	recordMagic   = "vdisk-meta"
	recordVersion = 1
)

// ParseError points at the line of a record that failed to parse.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return storeerr.ErrCorruptMetadata
}

func encodeRecord(w io.Writer, d *VirtualDisk) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %d\n", recordMagic, recordVersion)
	fmt.Fprintf(bw, "disk_name: %s\n", strconv.Quote(d.Name))
	fmt.Fprintf(bw, "start_offset: %d\n", d.StartOffset)
	fmt.Fprintf(bw, "size: %d\n", d.Size)
	fmt.Fprintf(bw, "files: %d\n", d.Files.Len())
	for f := range d.Files.All() {
		fmt.Fprintf(bw, "file %s logical=%d offset=%d stored=%d hash=%016x algo=%s\n",
			strconv.Quote(f.Name), f.LogicalSize, f.StoredOffset, f.StoredSize, f.Hash, f.Algorithm)
	}
	return bw.Flush()
}

type recordParser struct {
	scanner *bufio.Scanner
	line    int
}

func (p *recordParser) fail(format string, args ...any) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *recordParser) next() (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", errors.Wrapf(storeerr.ErrIO, "read record: %v", err)
		}
		p.line++
		return "", p.fail("unexpected end of record")
	}
	p.line++
	return strings.TrimRight(p.scanner.Text(), "\r"), nil
}

func (p *recordParser) field(key string) (string, error) {
	line, err := p.next()
	if err != nil {
		return "", err
	}
	value, ok := strings.CutPrefix(line, key+": ")
	if !ok {
		return "", p.fail("expected %q field, got %q", key, line)
	}
	return value, nil
}

func (p *recordParser) intField(key string) (int64, error) {
	value, err := p.field(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, p.fail("%s should be a non-negative integer, got %q", key, value)
	}
	return n, nil
}

func decodeRecord(r io.Reader) (*VirtualDisk, error) {
	p := &recordParser{scanner: bufio.NewScanner(r)}

	header, err := p.next()
	if err != nil {
		return nil, err
	}
	magic, version, ok := strings.Cut(header, " ")
	if !ok || magic != recordMagic {
		return nil, p.fail("not a vdisk metadata record")
	}
	if version != strconv.Itoa(recordVersion) {
		return nil, p.fail("unsupported record version %q", version)
	}

	quotedName, err := p.field("disk_name")
	if err != nil {
		return nil, err
	}
	name, err := strconv.Unquote(quotedName)
	if err != nil || name == "" {
		return nil, p.fail("disk_name should be a non-empty quoted string, got %s", quotedName)
	}
	start, err := p.intField("start_offset")
	if err != nil {
		return nil, err
	}
	size, err := p.intField("size")
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, p.fail("size should be positive")
	}
	count, err := p.intField("files")
	if err != nil {
		return nil, err
	}

	d := NewVirtualDisk(name, start, size)
	for i := int64(0); i < count; i++ {
		line, err := p.next()
		if err != nil {
			return nil, err
		}
		f, err := p.parseFile(line)
		if err != nil {
			return nil, err
		}
		if _, dup := d.Files.Lookup(f.Name); dup {
			return nil, p.fail("file %q listed twice", f.Name)
		}
		if err := d.CheckEntry(f); err != nil {
			return nil, p.fail("%v", err)
		}
		d.Files.InsertOrReplace(f)
	}

	for p.scanner.Scan() {
		p.line++
		if strings.TrimSpace(p.scanner.Text()) != "" {
			return nil, p.fail("unexpected content after %d file entries", count)
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, errors.Wrapf(storeerr.ErrIO, "read record: %v", err)
	}

	if err := checkOverlaps(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *recordParser) parseFile(line string) (filetable.StoredFile, error) {
	rest, ok := strings.CutPrefix(line, "file ")
	if !ok {
		return filetable.StoredFile{}, p.fail("expected file entry, got %q", line)
	}
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return filetable.StoredFile{}, p.fail("file name should be quoted: %q", line)
	}
	name, _ := strconv.Unquote(quoted)

	f := filetable.StoredFile{Name: name}
	seen := make(map[string]bool, 5)
	for _, kv := range strings.Fields(rest[len(quoted):]) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || seen[key] {
			return filetable.StoredFile{}, p.fail("malformed attribute %q", kv)
		}
		seen[key] = true

		switch key {
		case "logical", "offset", "stored":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return filetable.StoredFile{}, p.fail("%s should be a non-negative integer, got %q", key, value)
			}
			switch key {
			case "logical":
				f.LogicalSize = n
			case "offset":
				f.StoredOffset = n
			case "stored":
				f.StoredSize = n
			}
		case "hash":
			h, err := strconv.ParseUint(value, 16, 64)
			if err != nil {
				return filetable.StoredFile{}, p.fail("hash should be hex, got %q", value)
			}
			f.Hash = h
		case "algo":
			f.Algorithm = value
		default:
			return filetable.StoredFile{}, p.fail("unknown attribute %q", key)
		}
	}
	for _, key := range []string{"logical", "offset", "stored", "hash", "algo"} {
		if !seen[key] {
			return filetable.StoredFile{}, p.fail("file %q is missing %s", name, key)
		}
	}
	return f, nil
}

func checkOverlaps(d *VirtualDisk) error {
	var prev *filetable.StoredFile
	files := make([]filetable.StoredFile, 0, d.Files.Len())
	for f := range d.Files.All() {
		if f.StoredSize > 0 {
			files = append(files, f)
		}
	}
	slices.SortFunc(files, func(a, b filetable.StoredFile) int {
		return cmp.Compare(a.StoredOffset, b.StoredOffset)
	})
	for i := range files {
		f := &files[i]
		if prev != nil && f.StoredOffset < prev.End() {
			return errors.Wrapf(storeerr.ErrCorruptMetadata,
				"files %q and %q overlap in disk %q", prev.Name, f.Name, d.Name)
		}
		prev = f
	}
	return nil
}
