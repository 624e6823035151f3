// Package isoeditor reads and rewrites files inside an existing ISO9660
// image without relocating anything. A file can be replaced in place as
// long as the new content fits the sectors already allocated to it.
package isoeditor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"
)

const (
	systemAreaSectors = 16
	maxDescriptors    = 64
	minRecordLen      = 34
	flagDirectory     = 0x02

	descPrimary       = 1
	descSupplementary = 2
	descTerminator    = 255
)

var (
	ErrEntryNotFound = errors.New("entry not found in image")
	ErrImageCorrupt  = errors.New("image is not a valid ISO9660 volume")
	ErrWriteRejected = errors.New("content does not fit in place")
)

// PathError records the in-image path an error relates to.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *PathError) Unwrap() error { return e.Err }

// entry is a directory record located in the image.
type entry struct {
	offset int64 // absolute offset of the directory record
	extent uint32
	size   uint32
	dir    bool
	name   string
}

type volume struct {
	root   entry
	joliet bool
}

// Image is an ISO9660 image opened for reading or in-place editing.
type Image struct {
	f         *os.File
	size      int64
	blockSize int64
	volumes   []volume // primary first
}

// Open parses the volume descriptors of the image at path.
func Open(path string, writable bool) (*Image, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	img, err := newImage(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return img, nil
}

func newImage(f *os.File) (*Image, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	img := &Image{f: f, size: info.Size()}

	const descSize = 2048
	desc := make([]byte, descSize)
	var supplementary []volume
	terminated := false
	for i := 0; i < maxDescriptors; i++ {
		off := int64(systemAreaSectors+i) * descSize
		if _, err := f.ReadAt(desc, off); err != nil {
			return nil, fmt.Errorf("%w: reading volume descriptor %d: %v", ErrImageCorrupt, i, err)
		}
		if string(desc[1:6]) != "CD001" {
			return nil, fmt.Errorf("%w: bad descriptor identifier at sector %d", ErrImageCorrupt, systemAreaSectors+i)
		}

		typ := desc[0]
		if typ == descTerminator {
			terminated = true
			break
		}
		if typ != descPrimary && typ != descSupplementary {
			continue
		}

		root, err := parseRecord(desc[156:190], off+156)
		if err != nil {
			return nil, err
		}
		switch typ {
		case descPrimary:
			if img.blockSize != 0 {
				continue
			}
			img.blockSize = int64(binary.LittleEndian.Uint16(desc[128:]))
			img.volumes = append([]volume{{root: root}}, img.volumes...)
		case descSupplementary:
			supplementary = append(supplementary, volume{root: root, joliet: isJoliet(desc[88:91])})
		}
	}
	if !terminated || img.blockSize == 0 {
		return nil, fmt.Errorf("%w: no primary volume descriptor", ErrImageCorrupt)
	}
	switch img.blockSize {
	case 512, 1024, 2048:
	default:
		return nil, fmt.Errorf("%w: logical block size %d", ErrImageCorrupt, img.blockSize)
	}
	img.volumes = append(img.volumes, supplementary...)
	return img, nil
}

func isJoliet(escape []byte) bool {
	return escape[0] == '%' && escape[1] == '/' && (escape[2] == '@' || escape[2] == 'C' || escape[2] == 'E')
}

// Close releases the underlying file.
func (img *Image) Close() error {
	return img.f.Close()
}

// ReadFile returns the contents of the file at path in the primary tree,
// e.g. "/EFI/BOOT/BOOT.CFG;1". The ";1" version suffix may be omitted.
func (img *Image) ReadFile(path string) ([]byte, error) {
	e, err := img.lookup(path)
	if err != nil {
		return nil, &PathError{Path: path, Err: err}
	}
	data, err := img.read(e)
	if err != nil {
		return nil, &PathError{Path: path, Err: err}
	}
	return data, nil
}

func (img *Image) lookup(path string) (entry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return entry{}, fmt.Errorf("%w: empty path", ErrEntryNotFound)
	}

	cur := img.volumes[0].root
	for i, part := range parts {
		children, err := img.readDir(cur, false)
		if err != nil {
			return entry{}, err
		}
		last := i == len(parts)-1
		found := false
		for _, c := range children {
			if !nameMatches(c.name, part) || c.dir == last {
				continue
			}
			cur = c
			found = true
			break
		}
		if !found {
			return entry{}, ErrEntryNotFound
		}
	}
	return cur, nil
}

func nameMatches(ident, want string) bool {
	if strings.EqualFold(ident, want) {
		return true
	}
	if strings.Contains(want, ";") {
		return false
	}
	base, _, _ := strings.Cut(ident, ";")
	return strings.EqualFold(base, want)
}

func (img *Image) read(e entry) ([]byte, error) {
	off := int64(e.extent) * img.blockSize
	if off+int64(e.size) > img.size {
		return nil, fmt.Errorf("%w: extent %d beyond end of image", ErrImageCorrupt, e.extent)
	}
	data := make([]byte, e.size)
	if _, err := img.f.ReadAt(data, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return data, nil
}

// allocated is the number of bytes reserved for e: its size rounded up
// to whole logical blocks.
func (img *Image) allocated(e entry) int64 {
	return (int64(e.size) + img.blockSize - 1) / img.blockSize * img.blockSize
}

// readDir decodes the records of directory d, skipping "." and "..".
func (img *Image) readDir(d entry, joliet bool) ([]entry, error) {
	data, err := img.read(d)
	if err != nil {
		return nil, err
	}
	base := int64(d.extent) * img.blockSize

	var out []entry
	for pos := int64(0); pos < int64(len(data)); {
		l := int64(data[pos])
		if l == 0 {
			// Records never cross a block boundary; the rest of this
			// block is padding.
			pos = (pos/img.blockSize + 1) * img.blockSize
			continue
		}
		if l < minRecordLen || pos+l > int64(len(data)) {
			return nil, fmt.Errorf("%w: bad directory record at offset %d", ErrImageCorrupt, base+pos)
		}
		rec, err := parseRecord(data[pos:pos+l], base+pos)
		if err != nil {
			return nil, err
		}
		pos += l

		if rec.name == "\x00" || rec.name == "\x01" {
			continue
		}
		if joliet {
			rec.name = decodeUCS2(rec.name)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(b []byte, offset int64) (entry, error) {
	if len(b) < minRecordLen || int(b[0]) > len(b) {
		return entry{}, fmt.Errorf("%w: short directory record at offset %d", ErrImageCorrupt, offset)
	}
	nameLen := int(b[32])
	if 33+nameLen > int(b[0]) {
		return entry{}, fmt.Errorf("%w: directory record name overflows at offset %d", ErrImageCorrupt, offset)
	}
	return entry{
		offset: offset,
		extent: binary.LittleEndian.Uint32(b[2:]),
		size:   binary.LittleEndian.Uint32(b[10:]),
		dir:    b[25]&flagDirectory != 0,
		name:   string(b[33 : 33+nameLen]),
	}, nil
}

func decodeUCS2(s string) string {
	b := []byte(s)
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(u))
}

// extentRecords maps each file extent to the offsets of every directory
// record (in all volume trees) that points at it.
func (img *Image) extentRecords() (map[uint32][]int64, error) {
	out := make(map[uint32][]int64)
	for _, v := range img.volumes {
		seen := map[uint32]bool{}
		queue := []entry{v.root}
		for len(queue) > 0 {
			d := queue[0]
			queue = queue[1:]
			if seen[d.extent] {
				continue
			}
			seen[d.extent] = true

			children, err := img.readDir(d, v.joliet)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if c.dir {
					queue = append(queue, c)
					continue
				}
				out[c.extent] = append(out[c.extent], c.offset)
			}
		}
	}
	return out, nil
}

// writeInPlace overwrites the allocated blocks of e with content, zero
// filling the tail, and updates the data length of every record in
// records.
func (img *Image) writeInPlace(e entry, content []byte, records []int64) error {
	if int64(len(content)) > img.allocated(e) {
		return fmt.Errorf("%w: %d bytes, %d allocated", ErrWriteRejected, len(content), img.allocated(e))
	}
	buf := make([]byte, img.allocated(e))
	copy(buf, content)
	if _, err := img.f.WriteAt(buf, int64(e.extent)*img.blockSize); err != nil {
		return err
	}

	var length [8]byte
	binary.LittleEndian.PutUint32(length[0:], uint32(len(content)))
	binary.BigEndian.PutUint32(length[4:], uint32(len(content)))
	for _, off := range records {
		if _, err := img.f.WriteAt(length[:], off+10); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile opens the image at imagePath and returns one file from it.
func ReadFile(imagePath, path string) ([]byte, error) {
	img, err := Open(imagePath, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = img.Close() }()
	return img.ReadFile(path)
}
