package jewel

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// SaveChunkFile writes the serialized chunk to disk.
func (rt *Runtime) SaveChunkFile(name string) error {
	chunk, err := rt.SaveChunk()
	if err != nil {
		return err
	}
	if err := os.WriteFile(name, chunk, 0644); err != nil {
		return errFileGeneric
	}
	return nil
}

// LoadChunkFile memory-maps a chunk file read-only and loads it.
func (rt *Runtime) LoadChunkFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return errFileOpen
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		// fall back to a plain read for zero-length or special files
		raw, rerr := os.ReadFile(name)
		if rerr != nil {
			return errFileGeneric
		}
		return rt.LoadChunk(raw)
	}
	defer data.Unmap()
	return rt.LoadChunk(data)
}
