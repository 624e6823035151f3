package fatimg

import (
	"encoding/binary"
	"fmt"
)

// geometry is the volume layout decoded from the BIOS parameter block.
// Offsets are in bytes from the start of the image.
type geometry struct {
	bytesPerSector    int
	sectorsPerCluster int
	numFATs           int
	rootEntries       int
	fatOffset         int
	fatSize           int
	rootOffset        int
	dataOffset        int
	clusterCount      int
}

func parseGeometry(img []byte) (*geometry, error) {
	if len(img) < sectorSize || img[510] != 0x55 || img[511] != 0xAA {
		return nil, fmt.Errorf("%w: missing boot signature", ErrCorrupt)
	}

	bps := int(binary.LittleEndian.Uint16(img[11:]))
	spc := int(img[13])
	reserved := int(binary.LittleEndian.Uint16(img[14:]))
	fats := int(img[16])
	roots := int(binary.LittleEndian.Uint16(img[17:]))
	total := int(binary.LittleEndian.Uint16(img[19:]))
	if total == 0 {
		total = int(binary.LittleEndian.Uint32(img[32:]))
	}
	spf := int(binary.LittleEndian.Uint16(img[22:]))

	switch bps {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("%w: bytes per sector %d", ErrCorrupt, bps)
	}
	if spc == 0 || spc&(spc-1) != 0 || reserved == 0 || fats == 0 || roots == 0 || spf == 0 {
		return nil, fmt.Errorf("%w: bad parameter block", ErrCorrupt)
	}
	if len(img) < total*bps {
		return nil, fmt.Errorf("%w: image truncated (%d < %d bytes)", ErrCorrupt, len(img), total*bps)
	}

	rootSectors := (roots*dirEntrySize + bps - 1) / bps
	dataSector := reserved + fats*spf + rootSectors
	if dataSector >= total {
		return nil, fmt.Errorf("%w: no data region", ErrCorrupt)
	}
	clusters := (total - dataSector) / spc
	if clusters > fat12MaxClus {
		return nil, fmt.Errorf("%w: %d clusters is not FAT12", ErrCorrupt, clusters)
	}
	// Every cluster number up to clusters+1 must have a slot in the FAT.
	if (clusters+2)*3/2+1 > spf*bps {
		return nil, fmt.Errorf("%w: FAT too small", ErrCorrupt)
	}

	return &geometry{
		bytesPerSector:    bps,
		sectorsPerCluster: spc,
		numFATs:           fats,
		rootEntries:       roots,
		fatOffset:         reserved * bps,
		fatSize:           spf * bps,
		rootOffset:        (reserved + fats*spf) * bps,
		dataOffset:        dataSector * bps,
		clusterCount:      clusters,
	}, nil
}

func (g *geometry) clusterBytes() int {
	return g.bytesPerSector * g.sectorsPerCluster
}

func (g *geometry) fat(img []byte, i int) []byte {
	off := g.fatOffset + i*g.fatSize
	return img[off : off+g.fatSize]
}

func (g *geometry) root(img []byte) []byte {
	return img[g.rootOffset : g.rootOffset+g.rootEntries*dirEntrySize]
}

func (g *geometry) cluster(img []byte, c int) []byte {
	off := g.dataOffset + (c-2)*g.clusterBytes()
	return img[off : off+g.clusterBytes()]
}

func (g *geometry) validCluster(c int) bool {
	return c >= 2 && c < g.clusterCount+2
}

func (g *geometry) getFAT(img []byte, c int) int {
	return int(fat12Get(g.fat(img, 0), c))
}

// setFAT writes the entry for cluster c into every FAT copy.
func (g *geometry) setFAT(img []byte, c int, v uint16) {
	for i := 0; i < g.numFATs; i++ {
		fat12Set(g.fat(img, i), c, v)
	}
}

func (g *geometry) freeClusters(img []byte, n int) []int {
	out := make([]int, 0, n)
	for c := 2; c < g.clusterCount+2 && len(out) < n; c++ {
		if g.getFAT(img, c) == 0 {
			out = append(out, c)
		}
	}
	return out
}

func (g *geometry) freeChain(img []byte, c int) {
	for steps := 0; g.validCluster(c) && steps <= g.clusterCount; steps++ {
		next := g.getFAT(img, c)
		g.setFAT(img, c, 0)
		c = next
	}
}

func (g *geometry) readChain(img []byte, first, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, 0, size)
	c := first
	for steps := 0; len(out) < size; steps++ {
		if !g.validCluster(c) || steps > g.clusterCount {
			return nil, fmt.Errorf("%w: broken cluster chain at %d", ErrCorrupt, c)
		}
		data := g.cluster(img, c)
		remaining := size - len(out)
		if remaining < len(data) {
			data = data[:remaining]
		}
		out = append(out, data...)
		c = g.getFAT(img, c)
		if c >= fat12EOCMin && len(out) < size {
			return nil, fmt.Errorf("%w: chain shorter than file size", ErrCorrupt)
		}
	}
	return out, nil
}

// FAT12 packs two 12-bit entries into three bytes.
func fat12Get(fat []byte, c int) uint16 {
	off := c + c/2
	v := uint16(fat[off]) | uint16(fat[off+1])<<8
	if c&1 == 1 {
		return v >> 4
	}
	return v & 0x0FFF
}

func fat12Set(fat []byte, c int, v uint16) {
	off := c + c/2
	if c&1 == 1 {
		fat[off] = fat[off]&0x0F | byte(v<<4)
		fat[off+1] = byte(v >> 4)
		return
	}
	fat[off] = byte(v)
	fat[off+1] = fat[off+1]&0xF0 | byte(v>>8)&0x0F
}
