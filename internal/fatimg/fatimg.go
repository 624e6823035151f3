// Package fatimg builds and reads 1.44MB FAT12 floppy images holding a
// handful of files in the root directory. It is deliberately small: no
// subdirectories, no long file names, one cluster per sector.
package fatimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	sectorSize        = 512
	totalSectors      = 2880
	reservedSectors   = 1
	numFATs           = 2
	sectorsPerFAT     = 9
	rootEntries       = 224
	sectorsPerCluster = 1
	mediaDescriptor   = 0xF0
	sectorsPerTrack   = 18
	numHeads          = 2

	// ImageSize is the size of every image produced by Format and Build.
	ImageSize = totalSectors * sectorSize

	dirEntrySize  = 32
	attrArchive   = 0x20
	attrVolumeID  = 0x08
	attrLongName  = 0x0F
	entryFree     = 0xE5
	entryEnd      = 0x00
	caseLowerBase = 0x08
	caseLowerExt  = 0x10

	fat12EOC     = 0xFFF
	fat12EOCMin  = 0xFF8
	fat12MaxClus = 4084

	// dosEpoch is 1980-01-01 in FAT date encoding. Every timestamp in the
	// image uses it so identical payloads produce identical images.
	dosEpoch = 1<<5 | 1

	volumeSerial = 0x4B534346
	volumeLabel  = "KICKSTART  "
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds floppy capacity")
	ErrInvalidName     = errors.New("invalid 8.3 file name")
	ErrRootFull        = errors.New("root directory is full")
	ErrNotFound        = errors.New("file not found in image")
	ErrCorrupt         = errors.New("image is not a valid FAT12 volume")
)

// Capacity is the largest payload Build accepts.
const Capacity = (totalSectors - reservedSectors - numFATs*sectorsPerFAT - rootEntries*dirEntrySize/sectorSize) / sectorsPerCluster * sectorsPerCluster * sectorSize

// Build returns a fresh floppy image containing exactly one file.
func Build(name string, payload []byte) ([]byte, error) {
	if len(payload) > Capacity {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", ErrPayloadTooLarge, len(payload), Capacity)
	}
	img := Format()
	if err := WriteFile(img, name, payload); err != nil {
		return nil, err
	}
	return img, nil
}

// Format returns an empty, freshly formatted 1.44MB image.
func Format() []byte {
	img := make([]byte, ImageSize)
	bs := img[:sectorSize]

	copy(bs[0:3], []byte{0xEB, 0x3C, 0x90})
	copy(bs[3:11], "MSDOS5.0")
	binary.LittleEndian.PutUint16(bs[11:], sectorSize)
	bs[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(bs[14:], reservedSectors)
	bs[16] = numFATs
	binary.LittleEndian.PutUint16(bs[17:], rootEntries)
	binary.LittleEndian.PutUint16(bs[19:], totalSectors)
	bs[21] = mediaDescriptor
	binary.LittleEndian.PutUint16(bs[22:], sectorsPerFAT)
	binary.LittleEndian.PutUint16(bs[24:], sectorsPerTrack)
	binary.LittleEndian.PutUint16(bs[26:], numHeads)
	bs[38] = 0x29
	binary.LittleEndian.PutUint32(bs[39:], volumeSerial)
	copy(bs[43:54], volumeLabel)
	copy(bs[54:62], "FAT12   ")
	// int 18h; jmp $
	copy(bs[62:], []byte{0xCD, 0x18, 0xEB, 0xFE})
	bs[510] = 0x55
	bs[511] = 0xAA

	g, _ := parseGeometry(img)
	for i := 0; i < g.numFATs; i++ {
		fat := g.fat(img, i)
		fat[0] = mediaDescriptor
		fat[1] = 0xFF
		fat[2] = 0xFF
	}
	return img
}

// WriteFile stores payload under name in the root directory of img,
// replacing any existing file with the same name. img is modified in place.
func WriteFile(img []byte, name string, payload []byte) error {
	work := bytes.Clone(img)
	if err := writeFile(work, name, payload); err != nil {
		return err
	}
	copy(img, work)
	return nil
}

func writeFile(img []byte, name string, payload []byte) error {
	g, err := parseGeometry(img)
	if err != nil {
		return err
	}
	short, caseFlags, err := shortName(name)
	if err != nil {
		return err
	}

	slot := -1
	root := g.root(img)
	for i := 0; i < g.rootEntries; i++ {
		e := root[i*dirEntrySize : (i+1)*dirEntrySize]
		if e[0] == entryEnd || e[0] == entryFree {
			if slot < 0 {
				slot = i
			}
			if e[0] == entryEnd {
				break
			}
			continue
		}
		if isFileEntry(e) && string(e[0:11]) == string(short[:]) {
			g.freeChain(img, int(binary.LittleEndian.Uint16(e[26:])))
			slot = i
			break
		}
	}
	if slot < 0 {
		return ErrRootFull
	}

	clusterBytes := g.clusterBytes()
	need := (len(payload) + clusterBytes - 1) / clusterBytes
	clusters := g.freeClusters(img, need)
	if len(clusters) < need {
		return fmt.Errorf("%w: %d bytes, %d free clusters", ErrPayloadTooLarge, len(payload), len(clusters))
	}

	for i, c := range clusters {
		next := fat12EOC
		if i+1 < len(clusters) {
			next = clusters[i+1]
		}
		g.setFAT(img, c, uint16(next))

		data := g.cluster(img, c)
		n := copy(data, payload[i*clusterBytes:])
		clear(data[n:])
	}

	first := 0
	if len(clusters) > 0 {
		first = clusters[0]
	}

	e := root[slot*dirEntrySize : (slot+1)*dirEntrySize]
	clear(e)
	copy(e[0:11], short[:])
	e[11] = attrArchive
	e[12] = caseFlags
	binary.LittleEndian.PutUint16(e[16:], dosEpoch)
	binary.LittleEndian.PutUint16(e[18:], dosEpoch)
	binary.LittleEndian.PutUint16(e[24:], dosEpoch)
	binary.LittleEndian.PutUint16(e[26:], uint16(first))
	binary.LittleEndian.PutUint32(e[28:], uint32(len(payload)))
	return nil
}

// ReadFile returns the contents of name from the root directory of img.
func ReadFile(img []byte, name string) ([]byte, error) {
	g, err := parseGeometry(img)
	if err != nil {
		return nil, err
	}
	short, _, err := shortName(name)
	if err != nil {
		return nil, err
	}

	root := g.root(img)
	for i := 0; i < g.rootEntries; i++ {
		e := root[i*dirEntrySize : (i+1)*dirEntrySize]
		if e[0] == entryEnd {
			break
		}
		if e[0] == entryFree || !isFileEntry(e) || string(e[0:11]) != string(short[:]) {
			continue
		}
		return g.readChain(img, int(binary.LittleEndian.Uint16(e[26:])), int(binary.LittleEndian.Uint32(e[28:])))
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Files lists the names of the regular files in the root directory.
func Files(img []byte) ([]string, error) {
	g, err := parseGeometry(img)
	if err != nil {
		return nil, err
	}
	var names []string
	root := g.root(img)
	for i := 0; i < g.rootEntries; i++ {
		e := root[i*dirEntrySize : (i+1)*dirEntrySize]
		if e[0] == entryEnd {
			break
		}
		if e[0] == entryFree || !isFileEntry(e) {
			continue
		}
		names = append(names, longName(e))
	}
	return names, nil
}

func isFileEntry(e []byte) bool {
	attr := e[11]
	return attr != attrLongName && attr&attrVolumeID == 0 && attr&0x10 == 0
}

// shortName converts "ks.cfg" into the padded "KS      CFG" form and the
// NT case flags that make readers display it in lower case again.
func shortName(name string) ([11]byte, byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base, ext, _ := strings.Cut(name, ".")
	if base == "" || len(base) > 8 || len(ext) > 3 || strings.Contains(ext, ".") {
		return out, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range base + ext {
		if !validShortChar(r) {
			return out, 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}

	var flags byte
	if base == strings.ToLower(base) && base != strings.ToUpper(base) {
		flags |= caseLowerBase
	}
	if ext != "" && ext == strings.ToLower(ext) && ext != strings.ToUpper(ext) {
		flags |= caseLowerExt
	}
	copy(out[0:8], strings.ToUpper(base))
	copy(out[8:11], strings.ToUpper(ext))
	return out, flags, nil
}

func longName(e []byte) string {
	base := strings.TrimRight(string(e[0:8]), " ")
	ext := strings.TrimRight(string(e[8:11]), " ")
	if e[12]&caseLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if e[12]&caseLowerExt != 0 {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func validShortChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("!#$%&'()-@^_`{}~", r)
}
