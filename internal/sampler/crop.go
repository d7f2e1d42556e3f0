package sampler

import "image"

// padFace widens r by 20% of its width on every side, clamped to the frame.
func padFace(r image.Rectangle, cols, rows int) image.Rectangle {
	pad := int(0.2 * float64(r.Dx()))
	x := max(0, r.Min.X-pad)
	y := max(0, r.Min.Y-pad)
	w := min(cols-x, r.Dx()+2*pad)
	h := min(rows-y, r.Dy()+2*pad)
	return image.Rect(x, y, x+w, y+h)
}
