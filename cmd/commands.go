package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"vdisk/pkg/engine"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

const (
	exitOK = iota
	exitUsage
	exitNotFound
	exitCapacity
	exitCorrupt
	exitIO
	exitCollaborator
	exitInvalid
)

var expectedArgs = map[string]int{
	"create_disk": 2,
	"write_file":  2,
	"read_file":   2,
	"delete_file": 2,
	"list_files":  1,
	"list_disks":  0,
}

type options struct {
	name string
	out  string
}

// exitCode maps an error to the process exit status of its kind.
func exitCode(err error) int {
	switch storeerr.KindOf(err) {
	case storeerr.KindSuccess:
		return exitOK
	case storeerr.KindNotFound:
		return exitNotFound
	case storeerr.KindCapacityExceeded:
		return exitCapacity
	case storeerr.KindCorruptMetadata:
		return exitCorrupt
	case storeerr.KindCollaboratorFailure:
		return exitCollaborator
	case storeerr.KindInvalidArgument:
		return exitInvalid
	default:
		return exitIO
	}
}

// parseInterspersed lets flags appear before, between or after positional
// arguments. Everything after "--" is positional.
func parseInterspersed(cmd *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := cmd.Parse(args); err != nil {
			return nil, err
		}
		rest := cmd.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// diskNameFromMeta derives a disk name from a metadata file such as
// vdisk_disk1.meta. Other file names fall back to their base name without
// extension.
func diskNameFromMeta(metaPath string) string {
	base := filepath.Base(metaPath)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if name, ok := strings.CutPrefix(base, "vdisk_"); ok && name != "" {
		return name
	}
	return base
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(storeerr.ErrInvalidArgument, "size %q: %v", s, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, errors.Wrapf(storeerr.ErrInvalidArgument, "size %q out of range", s)
	}
	return int64(n), nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

func runInit(configPath string, _ []string) int {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := engine.InitConfig(configPath); err != nil {
			return fail(err)
		}
		fmt.Printf("Config written to %s\n", configPath)
	} else {
		fmt.Printf("Using existing config %s\n", configPath)
	}

	p, err := engine.InitPool(configPath)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Storage pool '%s' created (%d bytes, %s)\n", p.Path, p.Capacity, humanize.IBytes(uint64(p.Capacity)))
	return exitOK
}

func run(storage *engine.StorageEngine, command string, args []string, opts options) int {
	switch command {
	case "create_disk":
		return createDisk(storage, args[0], args[1], opts.name)
	case "write_file":
		return writeFile(storage, args[0], args[1])
	case "read_file":
		return readFile(storage, args[0], args[1], opts.out)
	case "delete_file":
		return deleteFile(storage, args[0], args[1])
	case "list_files":
		return listFiles(storage, os.Stdout, args[0])
	case "list_disks":
		return listDisks(storage, os.Stdout)
	}
	return exitUsage
}

func createDisk(storage *engine.StorageEngine, metaPath, sizeArg, name string) int {
	size, err := parseSize(sizeArg)
	if err != nil {
		return fail(err)
	}
	if name == "" {
		name = diskNameFromMeta(metaPath)
	}

	disk, err := storage.CreateDisk(name, size, metaPath)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Virtual disk '%s' created successfully\n", disk.Name)
	fmt.Printf("  Start Offset: %d bytes\n", disk.StartOffset)
	fmt.Printf("  Size: %d bytes (%.2f MB)\n", disk.Size, float64(disk.Size)/(1024*1024))
	fmt.Printf("  Metadata: %s\n", metaPath)
	return exitOK
}

func writeFile(storage *engine.StorageEngine, metaPath, source string) int {
	disk, err := storage.ResolveDisk(metaPath)
	if err != nil {
		return fail(err)
	}
	sf, err := storage.WriteFile(disk, source)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Stored '%s' in disk '%s': %s -> %s (%s)\n", sf.Name, disk,
		humanize.IBytes(uint64(sf.LogicalSize)), humanize.IBytes(uint64(sf.StoredSize)), sf.Algorithm)
	return exitOK
}

func readFile(storage *engine.StorageEngine, metaPath, name, out string) int {
	disk, err := storage.ResolveDisk(metaPath)
	if err != nil {
		return fail(err)
	}
	data, err := storage.ReadFile(disk, name)
	if err != nil {
		return fail(err)
	}

	if out == "" {
		out = "recovered_" + fs.SanitizeFileName(name)
	}
	err = fs.WriteFileAtomic(out, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fail(errors.Wrap(storeerr.ErrIO, err.Error()))
	}
	fmt.Printf("Recovered '%s' from disk '%s' to %s (%s)\n", name, disk, out, humanize.IBytes(uint64(len(data))))
	return exitOK
}

func deleteFile(storage *engine.StorageEngine, metaPath, name string) int {
	disk, err := storage.ResolveDisk(metaPath)
	if err != nil {
		return fail(err)
	}
	if err := storage.DeleteFile(disk, name); err != nil {
		return fail(err)
	}
	fmt.Printf("Deleted '%s' from disk '%s'\n", name, disk)
	return exitOK
}

func listFiles(storage *engine.StorageEngine, w io.Writer, metaPath string) int {
	disk, err := storage.ResolveDisk(metaPath)
	if err != nil {
		return fail(err)
	}
	files, err := storage.ListFiles(disk)
	if err != nil {
		return fail(err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSTORED\tOFFSET\tALGORITHM")
	count := 0
	for sf := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", sf.Name,
			humanize.IBytes(uint64(sf.LogicalSize)), humanize.IBytes(uint64(sf.StoredSize)), sf.StoredOffset, sf.Algorithm)
		count++
	}
	if err := tw.Flush(); err != nil {
		return fail(errors.Wrap(storeerr.ErrIO, err.Error()))
	}
	fmt.Fprintf(w, "%d file(s) in disk '%s'\n", count, disk)
	return exitOK
}

func listDisks(storage *engine.StorageEngine, w io.Writer) int {
	p := storage.Pool()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISK\tSTART\tSIZE\tMETADATA")
	for _, a := range storage.Disks() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.Name, a.StartOffset, humanize.IBytes(uint64(a.Size)), a.MetaPath)
	}
	if err := tw.Flush(); err != nil {
		return fail(errors.Wrap(storeerr.ErrIO, err.Error()))
	}
	fmt.Fprintf(w, "Pool %s: %s of %s allocated, %s free\n", p.Path,
		humanize.IBytes(uint64(p.Allocated())), humanize.IBytes(uint64(p.Capacity)), humanize.IBytes(uint64(p.Free())))
	return exitOK
}
