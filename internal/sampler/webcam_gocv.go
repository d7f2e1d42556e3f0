//go:build gocv

package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var errReadFrame = errors.New("webcam read failed")

// WebcamSource captures 640x480 frames and crops the largest Haar-detected
// face, padded by 20% of its width.
type WebcamSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	cascade gocv.CascadeClassifier
	img     gocv.Mat
}

func NewWebcamSource(device int, cascade string) (FrameSource, error) {
	if _, err := os.Stat(cascade); err != nil {
		return nil, fmt.Errorf("cascade file: %w", err)
	}
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open webcam %d: %w", device, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, 640)
	capture.Set(gocv.VideoCaptureFrameHeight, 480)
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	cc := gocv.NewCascadeClassifier()
	if !cc.Load(cascade) {
		_ = capture.Close()
		cc.Close()
		return nil, fmt.Errorf("load cascade %s", cascade)
	}
	return &WebcamSource{capture: capture, cascade: cc, img: gocv.NewMat()}, nil
}

func (w *WebcamSource) Next(ctx context.Context) (Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.capture == nil {
		return Frame{}, ErrSourceClosed
	}
	if ok := w.capture.Read(&w.img); !ok || w.img.Empty() {
		return Frame{}, errReadFrame
	}
	now := time.Now()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(w.img, &gray, gocv.ColorBGRToGray)
	faces := w.cascade.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(100, 100), image.Pt(0, 0))
	if len(faces) == 0 {
		return Frame{CapturedAt: now}, nil
	}

	crop := padFace(largest(faces), w.img.Cols(), w.img.Rows())
	face := w.img.Region(crop)
	defer face.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, face)
	if err != nil {
		return Frame{}, fmt.Errorf("encode face: %w", err)
	}
	defer buf.Close()
	return Frame{JPEG: bytes.Clone(buf.GetBytes()), HasFace: true, CapturedAt: now}, nil
}

func (w *WebcamSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.capture == nil {
		return nil
	}
	err := w.capture.Close()
	w.capture = nil
	w.cascade.Close()
	w.img.Close()
	return err
}

func largest(rs []image.Rectangle) image.Rectangle {
	best := rs[0]
	for _, r := range rs[1:] {
		if r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
		}
	}
	return best
}
