package features

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	// Channels is the number of colour channels in an encoded frame (RGB).
	Channels = 3

	// DefaultImageSize is the default square target size for frames.
	DefaultImageSize = 128

	// pixelScale maps [0,255] to [0,1].
	pixelScale = 1.0 / 255.0

	// depthMask extracts the element depth from an OpenCV mat type.
	depthMask gocv.MatType = 7
)

// ImageEncoder resizes a frame to a fixed size, converts it to RGB and
// rescales pixel intensities to [0,1]. Values are laid out row-major as
// height x width x channel.
type ImageEncoder struct {
	width  int
	height int
}

// NewImageEncoder returns an encoder producing width x height x 3 vectors.
func NewImageEncoder(width, height int) (*ImageEncoder, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	return &ImageEncoder{width: width, height: height}, nil
}

func (e *ImageEncoder) Mode() Mode { return ModeImage }

func (e *ImageEncoder) Dim() int { return e.width * e.height * Channels }

func (e *ImageEncoder) Shape() []int { return []int{1, e.height, e.width, Channels} }

// Size returns the target width and height.
func (e *ImageEncoder) Size() (int, int) { return e.width, e.height }

// Encode converts obs.Frame. The input frame is not modified.
func (e *ImageEncoder) Encode(obs Observation) (Vector, error) {
	if obs.Frame == nil || obs.Frame.Empty() {
		return nil, &DecodeError{Err: errors.New("empty frame")}
	}
	return e.EncodeMat(*obs.Frame)
}

// EncodeMat is Encode for a bare Mat.
func (e *ImageEncoder) EncodeMat(frame gocv.Mat) (Vector, error) {
	if frame.Empty() {
		return nil, &DecodeError{Err: errors.New("empty frame")}
	}

	rgb, err := toRGB(frame)
	if err != nil {
		return nil, err
	}
	defer rgb.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(e.width, e.height), 0, 0, gocv.InterpolationLinear)

	if resized.Empty() || resized.Rows() != e.height || resized.Cols() != e.width {
		return nil, &DecodeError{
			Err: fmt.Errorf("resize to %dx%d produced %dx%d", e.width, e.height, resized.Cols(), resized.Rows()),
		}
	}

	data := resized.ToBytes()
	if len(data) != e.Dim() {
		return nil, &DecodeError{Err: fmt.Errorf("frame has %d bytes, expected %d", len(data), e.Dim())}
	}

	out := make(Vector, len(data))
	for i, b := range data {
		out[i] = float64(b) * pixelScale
	}
	return out, nil
}

// toRGB returns a new 8-bit, 3-channel RGB copy of frame.
func toRGB(frame gocv.Mat) (gocv.Mat, error) {
	if depth := frame.Type() & depthMask; depth != gocv.MatTypeCV8U {
		return gocv.NewMat(), &DecodeError{Err: fmt.Errorf("unsupported pixel depth (mat type %v)", frame.Type())}
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	switch frame.Channels() {
	case 1:
		gocv.CvtColor(frame, &bgr, gocv.ColorGrayToBGR)
	case 3:
		frame.CopyTo(&bgr)
	case 4:
		gocv.CvtColor(frame, &bgr, gocv.ColorBGRAToBGR)
	default:
		return gocv.NewMat(), &DecodeError{Err: fmt.Errorf("unsupported channel count %d", frame.Channels())}
	}

	dst := gocv.NewMat()
	gocv.CvtColor(bgr, &dst, gocv.ColorBGRToRGB)
	if dst.Empty() || dst.Channels() != Channels {
		dst.Close()
		return gocv.NewMat(), &DecodeError{Err: errors.New("colour conversion failed")}
	}
	return dst, nil
}

// DecodeImageFile reads an image from disk in OpenCV's BGR layout.
// The caller closes the returned Mat.
func DecodeImageFile(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), &DecodeError{Source: path, Err: errors.New("unreadable image")}
	}
	return mat, nil
}

// EncodeImageFile decodes path and encodes it with e.
func (e *ImageEncoder) EncodeImageFile(path string) (Vector, error) {
	mat, err := DecodeImageFile(path)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	v, err := e.EncodeMat(mat)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.Source == "" {
			de.Source = path
		}
		return nil, err
	}
	return v, nil
}
