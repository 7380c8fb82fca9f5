package lepton

import "fmt"

// StorageMode is the resolution and pixel depth the driver stores frames in.
//
// The sensor always streams 80x60 raw lines; lower resolutions are produced
// by averaging square blocks of raw pixels after each band of lines arrives.
type StorageMode int

const (
	StorageMode80x60x16 StorageMode = iota
	StorageMode80x60x8
	StorageMode40x30x16
	StorageMode40x30x8
	StorageMode20x15x16
	StorageMode20x15x8

	storageModeCount
)

// Geometry describes the image buffer layout of a storage mode.
type Geometry struct {
	Width         int
	Height        int
	BytesPerPixel int
	// Pitch is the distance in bytes between the starts of two rows.
	Pitch int
	// TotalBytes is (Height-1)*Pitch + Width*BytesPerPixel.
	TotalBytes int
	// LinesPerBand is the number of raw VoSPI lines averaged into one row.
	LinesPerBand int
}

func newGeometry(width, height, bpp, band int, aligned bool) Geometry {
	pitch := width * bpp
	if aligned {
		pitch = roundUp16(pitch)
	}
	return Geometry{
		Width:         width,
		Height:        height,
		BytesPerPixel: bpp,
		Pitch:         pitch,
		TotalBytes:    (height-1)*pitch + width*bpp,
		LinesPerBand:  band,
	}
}

var (
	alignedGeometries = [storageModeCount]Geometry{
		StorageMode80x60x16: newGeometry(80, 60, 2, 1, true),
		StorageMode80x60x8:  newGeometry(80, 60, 1, 1, true),
		StorageMode40x30x16: newGeometry(40, 30, 2, 2, true),
		StorageMode40x30x8:  newGeometry(40, 30, 1, 2, true),
		StorageMode20x15x16: newGeometry(20, 15, 2, 4, true),
		StorageMode20x15x8:  newGeometry(20, 15, 1, 4, true),
	}
	packedGeometries = [storageModeCount]Geometry{
		StorageMode80x60x16: newGeometry(80, 60, 2, 1, false),
		StorageMode80x60x8:  newGeometry(80, 60, 1, 1, false),
		StorageMode40x30x16: newGeometry(40, 30, 2, 2, false),
		StorageMode40x30x8:  newGeometry(40, 30, 1, 2, false),
		StorageMode20x15x16: newGeometry(20, 15, 2, 4, false),
		StorageMode20x15x8:  newGeometry(20, 15, 1, 4, false),
	}
)

// Valid reports whether m is one of the six supported storage modes.
func (m StorageMode) Valid() bool {
	return m >= 0 && m < storageModeCount
}

// Geometry returns the layout of m with rows aligned to 16 bytes.
func (m StorageMode) Geometry() Geometry {
	if !m.Valid() {
		return Geometry{}
	}
	return alignedGeometries[m]
}

// PackedGeometry returns the layout of m without row alignment.
func (m StorageMode) PackedGeometry() Geometry {
	if !m.Valid() {
		return Geometry{}
	}
	return packedGeometries[m]
}

func (m StorageMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("StorageMode(%d)", int(m))
	}
	g := alignedGeometries[m]
	return fmt.Sprintf("%dx%d@%dbpp", g.Width, g.Height, g.BytesPerPixel*8)
}

func roundUp16(n int) int {
	return (n + 15) &^ 15
}
