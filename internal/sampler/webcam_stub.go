//go:build !gocv

package sampler

import "errors"

// ErrWebcamUnavailable is returned when the binary was built without the
// gocv tag.
var ErrWebcamUnavailable = errors.New("webcam source requires building with -tags gocv")

func NewWebcamSource(device int, cascade string) (FrameSource, error) {
	return nil, ErrWebcamUnavailable
}
