// Package checksum computes the hashes MemPack embeds in its pack and
// ANN file formats (XXH3-64 for block/global/directory integrity,
// CRC32 where the format calls for it) and performs atomic file writes.
package checksum

import (
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// XXH3 returns the 64-bit XXH3 hash of data, as stored in block
// directory entries and the pack trailer.
func XXH3(data []byte) uint64 {
	return xxh3.Hash(data)
}

// CRC32C returns the Castagnoli CRC32 checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}

// VerifyXXH3 reports whether data hashes to want.
func VerifyXXH3(data []byte, want uint64) bool {
	return XXH3(data) == want
}

// AtomicWrite writes data to path by first writing to a temp file in
// the same directory and renaming it into place, so a reader never
// observes a partially written pack or ANN file.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mempack-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
