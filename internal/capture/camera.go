// Package capture reads frames from a camera device or a video file and
// gates the live loop on motion.
package capture

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Default capture settings.
const (
	DefaultFPS    = 5
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned by ReadFrame before Open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEndOfStream is returned once a finite source has no frames left.
	ErrEndOfStream = errors.New("end of stream")
)

// Camera is a source of BGR frames. The caller closes every returned Mat.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// opener opens the underlying capture. Devices and files differ only here.
type opener func() (*gocv.VideoCapture, error)

// videoSource wraps a gocv.VideoCapture behind the Camera interface.
type videoSource struct {
	name   string
	open   opener
	finite bool

	mu      sync.Mutex
	capture *gocv.VideoCapture
	fps     int
}

// NewCamera returns a Camera for the given device index. Frames are
// requested at 640x480 and DefaultFPS.
func NewCamera(deviceID int) Camera {
	return &videoSource{
		name: "device",
		open: func() (*gocv.VideoCapture, error) {
			vc, err := gocv.OpenVideoCapture(deviceID)
			if err != nil {
				return nil, errors.Wrapf(err, "open camera %d", deviceID)
			}
			vc.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
			vc.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
			return vc, nil
		},
		fps: DefaultFPS,
	}
}

// NewVideoFile returns a Camera that plays back a video file once.
// ReadFrame returns ErrEndOfStream after the last frame.
func NewVideoFile(path string) Camera {
	return &videoSource{
		name: path,
		open: func() (*gocv.VideoCapture, error) {
			vc, err := gocv.VideoCaptureFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "open video %s", path)
			}
			return vc, nil
		},
		finite: true,
		fps:    DefaultFPS,
	}
}

func (c *videoSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := c.open()
	if err != nil {
		return err
	}
	if !vc.IsOpened() {
		vc.Close()
		return errors.Errorf("capture %s did not open", c.name)
	}
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))
	c.capture = vc
	return nil
}

func (c *videoSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *videoSource) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if c.finite {
			return nil, ErrEndOfStream
		}
		return nil, errors.Errorf("read frame from %s", c.name)
	}
	return &mat, nil
}

// SetFPS ignores values <= 0.
func (c *videoSource) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *videoSource) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *videoSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
