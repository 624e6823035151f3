// Package isotest masters tiny ISO9660 images for tests. It only writes
// what the editor reads: volume descriptors and directory records. Path
// tables are left empty.
package isotest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"unicode/utf16"
)

const blockSize = 2048

// Options controls the shape of the generated image.
type Options struct {
	// Joliet adds a supplementary volume descriptor whose tree points at
	// the same file extents as the primary tree.
	Joliet bool
}

type node struct {
	name     string
	parent   *node
	children map[string]*node
	data     []byte
	dir      bool
	extent   uint32
	jExtent  uint32
}

func (n *node) sortedChildren() []*node {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*node, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

// Build returns an image holding files, keyed by absolute ISO path such
// as "/EFI/BOOT/BOOT.CFG;1". Each file starts on its own block.
func Build(files map[string][]byte, opts Options) []byte {
	root := &node{dir: true, children: map[string]*node{}}
	root.parent = root

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, p := range paths {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		cur := root
		for _, dir := range parts[:len(parts)-1] {
			next, ok := cur.children[dir]
			if !ok {
				next = &node{name: dir, parent: cur, dir: true, children: map[string]*node{}}
				cur.children[dir] = next
			}
			cur = next
		}
		name := parts[len(parts)-1]
		cur.children[name] = &node{name: name, parent: cur, data: files[p]}
	}

	var dirs, regular []*node
	queue := []*node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		dirs = append(dirs, n)
		for _, c := range n.sortedChildren() {
			if c.dir {
				queue = append(queue, c)
			} else {
				regular = append(regular, c)
			}
		}
	}

	next := uint32(18) // 16 primary, 17 terminator
	if opts.Joliet {
		next = 19 // 16 primary, 17 supplementary, 18 terminator
	}
	for _, d := range dirs {
		d.extent = next
		next++
	}
	if opts.Joliet {
		for _, d := range dirs {
			d.jExtent = next
			next++
		}
	}
	for _, f := range regular {
		f.extent = next
		sectors := (len(f.data) + blockSize - 1) / blockSize
		if sectors == 0 {
			sectors = 1
		}
		next += uint32(sectors)
	}

	img := make([]byte, int(next)*blockSize)
	writeDescriptor(img[16*blockSize:], 1, next, record([]byte{0}, root.extent, blockSize, true))
	term := 17
	if opts.Joliet {
		d := img[17*blockSize:]
		writeDescriptor(d, 2, next, record([]byte{0}, root.jExtent, blockSize, true))
		copy(d[88:91], "%/E")
		term = 18
	}
	t := img[term*blockSize:]
	t[0] = 255
	copy(t[1:6], "CD001")
	t[6] = 1

	for _, d := range dirs {
		writeDir(img, d, false)
		if opts.Joliet {
			writeDir(img, d, true)
		}
	}
	for _, f := range regular {
		copy(img[int(f.extent)*blockSize:], f.data)
	}
	return img
}

// Write builds an image and stores it as name inside dir.
func Write(t testing.TB, dir, name string, files map[string][]byte, opts Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(files, opts), 0o644); err != nil {
		t.Fatalf("write iso fixture: %v", err)
	}
	return path
}

func writeDescriptor(d []byte, typ byte, totalBlocks uint32, rootRecord []byte) {
	d[0] = typ
	copy(d[1:6], "CD001")
	d[6] = 1
	copy(d[40:72], strings.Repeat(" ", 32))
	copy(d[40:], "ISOTEST")
	putBoth32(d[80:], totalBlocks)
	putBoth16(d[120:], 1)
	putBoth16(d[124:], 1)
	putBoth16(d[128:], blockSize)
	copy(d[156:190], rootRecord)
	d[881] = 1
}

func writeDir(img []byte, d *node, joliet bool) {
	self := d.extent
	parent := d.parent.extent
	if joliet {
		self = d.jExtent
		parent = d.parent.jExtent
	}

	buf := img[int(self)*blockSize : int(self+1)*blockSize]
	pos := 0
	pos += copy(buf[pos:], record([]byte{0}, self, blockSize, true))
	pos += copy(buf[pos:], record([]byte{1}, parent, blockSize, true))
	for _, c := range d.sortedChildren() {
		name := []byte(c.name)
		if joliet {
			name = ucs2(c.name)
		}
		if c.dir {
			ext := c.extent
			if joliet {
				ext = c.jExtent
			}
			pos += copy(buf[pos:], record(name, ext, blockSize, true))
			continue
		}
		pos += copy(buf[pos:], record(name, c.extent, uint32(len(c.data)), false))
	}
}

func record(name []byte, extent, size uint32, dir bool) []byte {
	l := 33 + len(name)
	if l%2 == 1 {
		l++
	}
	r := make([]byte, l)
	r[0] = byte(l)
	putBoth32(r[2:], extent)
	putBoth32(r[10:], size)
	if dir {
		r[25] = 0x02
	}
	putBoth16(r[28:], 1)
	r[32] = byte(len(name))
	copy(r[33:], name)
	return r
}

func ucs2(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(u))
	for i, v := range u {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func putBoth16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b[0:], v)
	binary.BigEndian.PutUint16(b[2:], v)
}

func putBoth32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b[0:], v)
	binary.BigEndian.PutUint32(b[4:], v)
}
