package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"vdisk/pkg/engine"
	"vdisk/pkg/models"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/logger"
)

func TestDiskNameFromMeta(t *testing.T) {
	cases := map[string]string{
		"vdisk_disk1.meta":         "disk1",
		"/tmp/x/vdisk_photos.meta": "photos",
		"archive.meta":             "archive",
		"vdisk_.meta":              "vdisk_",
		"plain":                    "plain",
		"dir/vdisk_with.dots.meta": "with.dots",
		"":                         "",
	}
	for in, want := range cases {
		require.Equal(t, want, diskNameFromMeta(in), in)
	}
}

func TestExitCode(t *testing.T) {
	require.Equal(t, exitOK, exitCode(nil))
	require.Equal(t, exitNotFound, exitCode(storeerr.E("read_file", "D1", "a", storeerr.ErrNotFound, nil)))
	require.Equal(t, exitCapacity, exitCode(errors.Wrap(storeerr.ErrCapacityExceeded, "full")))
	require.Equal(t, exitCorrupt, exitCode(storeerr.ErrCorruptMetadata))
	require.Equal(t, exitCollaborator, exitCode(storeerr.ErrCollaboratorFailure))
	require.Equal(t, exitInvalid, exitCode(storeerr.ErrInvalidArgument))
	require.Equal(t, exitIO, exitCode(errors.New("disk on fire")))
}

func TestParseInterspersed(t *testing.T) {
	cmd := flag.NewFlagSet("read_file", flag.ContinueOnError)
	config := cmd.String("config", "default.yaml", "")
	out := cmd.String("out", "", "")

	args, err := parseInterspersed(cmd, []string{"vdisk_D1.meta", "--out", "x.txt", "a.txt", "--config=c.yaml"})
	require.NoError(t, err)
	require.Equal(t, []string{"vdisk_D1.meta", "a.txt"}, args)
	require.Equal(t, "x.txt", *out)
	require.Equal(t, "c.yaml", *config)
}

func TestParseInterspersedStopsAtTerminator(t *testing.T) {
	cmd := flag.NewFlagSet("write_file", flag.ContinueOnError)
	cmd.String("config", "", "")

	args, err := parseInterspersed(cmd, []string{"m.meta", "--", "--config"})
	require.NoError(t, err)
	require.Equal(t, []string{"m.meta", "--config"}, args)
}

func TestParseInterspersedRejectsUnknownFlag(t *testing.T) {
	cmd := flag.NewFlagSet("list_files", flag.ContinueOnError)
	cmd.SetOutput(&bytes.Buffer{})

	_, err := parseInterspersed(cmd, []string{"m.meta", "--bogus"})
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	n, err := parseSize("419430400")
	require.NoError(t, err)
	require.EqualValues(t, 419430400, n)

	n, err = parseSize("400MiB")
	require.NoError(t, err)
	require.EqualValues(t, 400<<20, n)

	for _, bad := range []string{"", "0", "lots", "-5"} {
		_, err := parseSize(bad)
		require.ErrorIs(t, err, storeerr.ErrInvalidArgument, bad)
	}
}

func TestCommandsAgainstEngine(t *testing.T) {
	dir := t.TempDir()
	storage, err := engine.NewStorageEngine(&models.VdiskConfig{
		Log:   &models.LogConfig{},
		Pool:  &models.PoolConfig{Path: filepath.Join(dir, "storage.bin"), Capacity: 64 << 10},
		Cache: &models.CacheConfig{Type: models.CACHE_TYPE_MEMORY},
		Codec: &models.CodecConfig{Algorithm: "none", ScratchDir: filepath.Join(dir, "scratch")},
	}, engine.Dependencies{Logger: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	meta := filepath.Join(dir, "vdisk_docs.meta")
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("remember the milk"), 0o644))

	require.Equal(t, exitOK, createDisk(storage, meta, "16KiB", ""))
	require.Equal(t, exitInvalid, createDisk(storage, meta, "1KiB", "other"))
	require.Equal(t, exitOK, writeFile(storage, meta, src))

	var out bytes.Buffer
	require.Equal(t, exitOK, listFiles(storage, &out, meta))
	require.Contains(t, out.String(), "notes.txt")
	require.Contains(t, out.String(), "1 file(s) in disk 'docs'")

	recovered := filepath.Join(dir, "recovered.txt")
	require.Equal(t, exitOK, readFile(storage, meta, "notes.txt", recovered))
	data, err := os.ReadFile(recovered)
	require.NoError(t, err)
	require.Equal(t, "remember the milk", string(data))

	require.Equal(t, exitOK, deleteFile(storage, meta, "notes.txt"))
	require.Equal(t, exitNotFound, readFile(storage, meta, "notes.txt", recovered))
	require.Equal(t, exitNotFound, listFiles(storage, &out, filepath.Join(dir, "vdisk_missing.meta")))

	out.Reset()
	require.Equal(t, exitOK, listDisks(storage, &out))
	require.Contains(t, out.String(), "docs")
	require.Contains(t, out.String(), "16 KiB")
}
