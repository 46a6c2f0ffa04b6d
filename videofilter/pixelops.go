package videofilter

import "github.com/zsiec/prismenc/frame"

// blankPALLines zeroes the luma/chroma planes' first two and last two
// lines of a PAL-height (576-line) frame, per the broadcast convention
// of discarding VBI remnants that survive into active picture in some
// capture paths.
func (f *Filter) blankPALLines(r *frame.Raw) {
	if r.Height != 576 || len(r.Planes) == 0 {
		return
	}
	for pi, plane := range r.Planes {
		stride := r.Strides[pi]
		if stride == 0 {
			continue
		}
		rowsInPlane := len(plane) / stride
		blankRows := map[int]bool{0: true, 1: true, rowsInPlane - 2: true, rowsInPlane - 1: true}
		for row := 0; row < rowsInPlane; row++ {
			if !blankRows[row] {
				continue
			}
			start := row * stride
			end := start + stride
			if end > len(plane) {
				end = len(plane)
			}
			for i := start; i < end; i++ {
				plane[i] = 0
			}
		}
	}
}

// resize performs a nearest-neighbor resample of each plane to the
// configured target dimensions. Chroma planes are assumed subsampled by
// the same ratio as the luma plane (4:2:0/4:2:2), matching the strides
// already recorded on the frame.
func (f *Filter) resize(r *frame.Raw) {
	if r.Width == f.cfg.TargetWidth && r.Height == f.cfg.TargetHeight {
		return
	}
	if len(r.Planes) == 0 || r.Width == 0 || r.Height == 0 {
		return
	}

	srcW, srcH := r.Width, r.Height
	dstW, dstH := f.cfg.TargetWidth, f.cfg.TargetHeight

	newPlanes := make([][]byte, len(r.Planes))
	newStrides := make([]int, len(r.Planes))

	for pi, plane := range r.Planes {
		srcStride := r.Strides[pi]
		chromaDivW, chromaDivH := planeSubsampling(pi, len(r.Planes))
		if pi > 0 && (r.Colorspace == frame.Colorspace420P10 || r.Colorspace == frame.Colorspace420P8) {
			chromaDivH = 2
		}

		srcPW := srcW / chromaDivW
		srcPH := srcH / chromaDivH
		dstPW := dstW / chromaDivW
		dstPH := dstH / chromaDivH
		if dstPW == 0 {
			dstPW = 1
		}
		if dstPH == 0 {
			dstPH = 1
		}

		bpp := 1
		if srcPW > 0 && srcStride/srcPW >= 2 {
			bpp = 2
		}

		dstStride := dstPW * bpp
		out := make([]byte, dstStride*dstPH)

		for y := 0; y < dstPH; y++ {
			srcY := y * srcPH / dstPH
			for x := 0; x < dstPW; x++ {
				srcX := x * srcPW / dstPW
				srcOff := srcY*srcStride + srcX*bpp
				dstOff := y*dstStride + x*bpp
				if srcOff+bpp > len(plane) || dstOff+bpp > len(out) {
					continue
				}
				copy(out[dstOff:dstOff+bpp], plane[srcOff:srcOff+bpp])
			}
		}

		newPlanes[pi] = out
		newStrides[pi] = dstStride
	}

	r.Planes = newPlanes
	r.Strides = newStrides
	r.Width = dstW
	r.Height = dstH
}

// planeSubsampling returns the 4:2:2 horizontal/vertical subsampling
// divisors for plane index pi given the frame's total plane count (2
// chroma planes, half width, full height); resize sets the vertical
// divisor to 2 itself for 4:2:0 frames.
func planeSubsampling(pi, numPlanes int) (int, int) {
	if pi == 0 || numPlanes < 3 {
		return 1, 1
	}
	return 2, 1
}

// downconvertChroma halves the vertical resolution of the chroma planes
// of an interlaced 4:2:2 frame to produce 4:2:0, dropping every other
// chroma line (simple line-drop, not a filtered average — matching the
// low-complexity approach broadcast chains typically use for real-time
// interlaced downconversion).
func (f *Filter) downconvertChroma(r *frame.Raw) {
	if len(r.Planes) < 3 {
		return
	}
	for pi := 1; pi < 3; pi++ {
		plane := r.Planes[pi]
		stride := r.Strides[pi]
		if stride == 0 {
			continue
		}
		rows := len(plane) / stride
		halfRows := rows / 2
		out := make([]byte, halfRows*stride)
		for row := 0; row < halfRows; row++ {
			srcRow := row * 2
			copy(out[row*stride:(row+1)*stride], plane[srcRow*stride:(srcRow+1)*stride])
		}
		r.Planes[pi] = out
	}

	switch r.Colorspace {
	case frame.Colorspace422P10:
		r.Colorspace = frame.Colorspace420P10
	case frame.Colorspace422P8:
		r.Colorspace = frame.Colorspace420P8
	}
}

// dither8Bit converts each 16-bit-stored 10-bit plane to 8 bits using
// triangular (TPDF) error diffusion carried along each row, reducing
// the banding a plain truncation would introduce.
func (f *Filter) dither8Bit(r *frame.Raw) {
	switch r.Colorspace {
	case frame.Colorspace422P10:
		r.Colorspace = frame.Colorspace422P8
	case frame.Colorspace420P10:
		r.Colorspace = frame.Colorspace420P8
	default:
		return // already 8-bit
	}

	for pi, plane := range r.Planes {
		srcStride := r.Strides[pi]
		if srcStride == 0 {
			continue
		}
		width16 := srcStride / 2
		rows := len(plane) / srcStride
		dstStride := width16
		out := make([]byte, dstStride*rows)

		for row := 0; row < rows; row++ {
			var errCarry int32
			for x := 0; x < width16; x++ {
				srcOff := row*srcStride + x*2
				if srcOff+1 >= len(plane) {
					break
				}
				v10 := int32(plane[srcOff]) | int32(plane[srcOff+1])<<8
				// Triangular dither: add +/- up to one LSB of the
				// output step, carried from the previous pixel's
				// quantization error.
				scaled := v10*255 + errCarry
				v8 := scaled / 1023
				errCarry = scaled - v8*1023
				if v8 > 255 {
					v8 = 255
				} else if v8 < 0 {
					v8 = 0
				}
				out[row*dstStride+x] = byte(v8)
			}
		}

		r.Planes[pi] = out
		r.Strides[pi] = dstStride
	}
}
