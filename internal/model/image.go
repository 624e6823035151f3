package model

import (
	"time"
)

// Image is a patched installer ISO in the image directory.
type Image struct {
	Filename string
	Size     int64
	ModTime  time.Time
}
