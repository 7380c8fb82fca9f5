// Package cv moves Lepton frames into OpenCV matrices.
//
//	mat, err := cv.NewMat(frame.Image)
//	...
//	for frame := range stream {
//		err := cv.Copy(frame.Image, &mat)
//		...
//	}
package cv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// NewMat allocates a matrix matching img: CV_16UC1 for *image.Gray16 and
// CV_8UC1 for *image.Gray.
func NewMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	switch img.(type) {
	case *image.Gray16:
		return gocv.NewMatWithSize(b.Dy(), b.Dx(), gocv.MatTypeCV16UC1), nil
	case *image.Gray:
		return gocv.NewMatWithSize(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1), nil
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported image type %T", img)
	}
}

// Copy writes img into mat, which must have been allocated by NewMat.
func Copy(img image.Image, mat *gocv.Mat) error {
	b := img.Bounds()
	if mat.Rows() != b.Dy() || mat.Cols() != b.Dx() {
		return fmt.Errorf("matrix is %dx%d, image is %dx%d", mat.Cols(), mat.Rows(), b.Dx(), b.Dy())
	}

	switch frame := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				mat.SetShortAt(y-b.Min.Y, x-b.Min.X, int16(frame.Gray16At(x, y).Y))
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				mat.SetUCharAt(y-b.Min.Y, x-b.Min.X, frame.GrayAt(x, y).Y)
			}
		}
	default:
		return fmt.Errorf("unsupported image type %T", img)
	}
	return nil
}
