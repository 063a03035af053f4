package bmpx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

var ErrUnsupported = errors.New("bmp: unsupported")

// Crop crops the provided region of the BMP found in the input stream to the
// output stream. The output is itself a BMP.
//
// The input BMP must be bottom-up, no alpha, and uncompressed.
//
// Thanks to the simplicity of the BMP format, crop uses a very small amount of
// memory (~8KiB).
//
// If src is an io.ReadSeeker, then the cropper will seek to skip pixels that
// are outside the cropping region.
//
// Cropping complexity scales primarily with number of cropped rows, not
// columns.
func Crop(src io.Reader, dst io.Writer, region image.Rectangle) error {
	hdr, err := DecodeHeader(src)
	if err != nil {
		return err
	}
	if hdr.TopDown {
		return fmt.Errorf("%w: topDown", ErrUnsupported)
	}
	if hdr.AllowAlpha {
		return fmt.Errorf("%w: allowAlpha", ErrUnsupported)
	}

	// Find / validate crop area
	dim := image.Rect(0, 0, hdr.Config.Width, hdr.Config.Height)
	region = dim.Intersect(region)
	if region.Empty() {
		return errors.New("crop area empty or out of bounds")
	}

	// Rewrite the header with the cropped dimensions
	bytesPerPixel := hdr.BitsPerPixel / 8
	rowBytes := byteWidth(hdr.Config.Width, hdr.BitsPerPixel)
	wantWidth := byteWidth(region.Dx(), hdr.BitsPerPixel)
	totalSize := wantWidth*region.Dy() + len(hdr.HeaderBytes)
	binary.LittleEndian.PutUint32(hdr.HeaderBytes[2:6], uint32(totalSize))
	binary.LittleEndian.PutUint32(hdr.HeaderBytes[18:22], uint32(region.Dx()))
	binary.LittleEndian.PutUint32(hdr.HeaderBytes[22:26], uint32(region.Dy()))
	binary.LittleEndian.PutUint32(hdr.HeaderBytes[34:38], uint32(wantWidth*region.Dy()))
	if _, err := dst.Write(hdr.HeaderBytes); err != nil {
		return err
	}

	skip := skipper(src)

	// Skip uncropped last rows (recall: bmp is bottom-up)
	if err := skip(rowBytes * (hdr.Config.Height - region.Max.Y)); err != nil {
		return err
	}

	// Each BMP pixel row is padded to be 4-byte aligned, both in the input
	// and in the output.
	left := bytesPerPixel * region.Min.X
	mid := bytesPerPixel * region.Dx()
	right := rowBytes - (mid + left)
	padding := make([]byte, wantWidth-mid)

	for dy := 0; dy < region.Dy(); dy++ {
		if err := skip(left); err != nil {
			return err
		}
		n, err := io.CopyN(dst, src, int64(mid))
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		if n != int64(mid) {
			return io.ErrUnexpectedEOF
		}
		if _, err := dst.Write(padding); err != nil {
			return err
		}
		if err := skip(right); err != nil {
			return err
		}
	}

	return nil
}

func byteWidth(pixels, bitsPerPixel int) int {
	return ((pixels*bitsPerPixel + 31) / 32) * 4
}

// skipper seeks past bytes if possible, otherwise copies them to discard.
func skipper(src io.Reader) func(n int) error {
	if s, ok := src.(io.Seeker); ok {
		return func(n int) error {
			_, err := s.Seek(int64(n), io.SeekCurrent)
			return err
		}
	}
	return func(n int) error {
		m, err := io.CopyN(io.Discard, src, int64(n))
		if err == io.EOF || (err == nil && m != int64(n)) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
}

type DecodeResult struct {
	Config       image.Config
	BitsPerPixel int
	TopDown      bool
	AllowAlpha   bool
	HeaderBytes  []byte
	ImageOffset  uint32
}

// Size reads the header of the BMP in rs and seeks back to where it started.
func Size(rs io.ReadSeeker) (image.Point, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return image.Point{}, err
	}
	hdr, err := DecodeHeader(rs)
	if err != nil {
		return image.Point{}, err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return image.Point{}, err
	}
	return image.Pt(hdr.Config.Width, hdr.Config.Height), nil
}

// DecodeHeader is based on 'x/image/bmp' and edited for the usecase in this
// repo. Unlike the x/image implementation, the header and palette bytes are
// retained so that they can be re-written to cropped images.
func DecodeHeader(r io.Reader) (res DecodeResult, err error) {
	readUint16 := func(b []byte) uint16 {
		return uint16(b[0]) | uint16(b[1])<<8
	}
	readUint32 := func(b []byte) uint32 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}

	// We only support those BMP images with one of the following DIB headers:
	// - BITMAPINFOHEADER (40 bytes)
	// - BITMAPV4HEADER (108 bytes)
	// - BITMAPV5HEADER (124 bytes)
	const (
		fileHeaderLen   = 14
		infoHeaderLen   = 40
		v4InfoHeaderLen = 108
		v5InfoHeaderLen = 124
	)
	var empty DecodeResult
	var b [2048]byte
	if _, err := io.ReadFull(r, b[:fileHeaderLen+4]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return empty, err
	}
	if string(b[:2]) != "BM" {
		return empty, errors.New("bmp: invalid format")
	}
	offset := readUint32(b[10:14])
	infoLen := readUint32(b[14:18])
	if infoLen != infoHeaderLen && infoLen != v4InfoHeaderLen && infoLen != v5InfoHeaderLen {
		return empty, fmt.Errorf("%w: info header length %d", ErrUnsupported, infoLen)
	}
	if _, err := io.ReadFull(r, b[fileHeaderLen+4:fileHeaderLen+infoLen]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return empty, err
	}
	width := int(int32(readUint32(b[18:22])))
	height := int(int32(readUint32(b[22:26])))
	if height < 0 {
		height, res.TopDown = -height, true
	}
	if width < 0 || height < 0 {
		return empty, fmt.Errorf("%w: negative width", ErrUnsupported)
	}
	// We only support 1 plane and 8, 24 or 32 bits per pixel and no
	// compression.
	planes, bpp, compression := readUint16(b[26:28]), readUint16(b[28:30]), readUint32(b[30:34])
	// if compression is set to BI_BITFIELDS, but the bitmask is set to the default bitmask
	// that would be used if compression was set to 0, we can continue as if compression was 0
	if compression == 3 && infoLen > infoHeaderLen &&
		readUint32(b[54:58]) == 0xff0000 && readUint32(b[58:62]) == 0xff00 &&
		readUint32(b[62:66]) == 0xff && readUint32(b[66:70]) == 0xff000000 {
		compression = 0
	}
	if planes != 1 || compression != 0 {
		return empty, fmt.Errorf("%w: planes %d, compression %d", ErrUnsupported, planes, compression)
	}
	res.ImageOffset = offset
	switch bpp {
	case 8:
		if offset != fileHeaderLen+infoLen+256*4 {
			return empty, fmt.Errorf("%w: palette offset %d", ErrUnsupported, offset)
		}
		pre := fileHeaderLen + int(infoLen)
		if _, err := io.ReadFull(r, b[pre:pre+256*4]); err != nil {
			return empty, err
		}
		pcm := make(color.Palette, 256)
		for i := range pcm {
			// BMP images are stored in BGR order rather than RGB order.
			// Every 4th byte is padding.
			pcm[i] = color.RGBA{b[pre+4*i+2], b[pre+4*i+1], b[pre+4*i+0], 0xFF}
		}
		res.Config = image.Config{ColorModel: pcm, Width: width, Height: height}
	case 24, 32:
		if offset != fileHeaderLen+infoLen {
			return empty, fmt.Errorf("%w: pixel offset %d", ErrUnsupported, offset)
		}
		res.Config = image.Config{ColorModel: color.RGBAModel, Width: width, Height: height}
		// Alpha is only honoured for headers larger than BITMAPINFOHEADER,
		// the same rule x/image/bmp applies.
		res.AllowAlpha = bpp == 32 && infoLen > infoHeaderLen
	default:
		return empty, fmt.Errorf("%w: %d bits per pixel", ErrUnsupported, bpp)
	}
	res.BitsPerPixel = int(bpp)
	res.HeaderBytes = b[:offset]
	return res, nil
}
