package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/fixtures"
)

func TestNewMotionDetector(t *testing.T) {
	for _, tc := range []struct {
		name      string
		threshold float64
		want      float64
	}{
		{"explicit", 5, 5},
		{"zero uses default", 0, DefaultMotionThreshold},
		{"negative uses default", -1, DefaultMotionThreshold},
	} {
		t.Run(tc.name, func(t *testing.T) {
			md := NewMotionDetector(tc.threshold)
			defer md.Close()
			assert.Equal(t, tc.want, md.Threshold())
		})
	}
}

func TestMotionDetectorStillFrames(t *testing.T) {
	md := NewMotionDetector(1)
	defer md.Close()

	a := fixtures.SolidFrame(120, 160, 0, 0, 0)
	defer a.Close()
	b := fixtures.SolidFrame(120, 160, 0, 0, 0)
	defer b.Close()

	moved, pct := md.Detect(&a)
	assert.False(t, moved, "the first frame only primes the detector")
	assert.Zero(t, pct)

	moved, pct = md.Detect(&b)
	assert.False(t, moved)
	assert.Zero(t, pct)
}

func TestMotionDetectorChange(t *testing.T) {
	md := NewMotionDetector(1)
	defer md.Close()

	black := fixtures.SolidFrame(120, 160, 0, 0, 0)
	defer black.Close()
	white := fixtures.SolidFrame(120, 160, 255, 255, 255)
	defer white.Close()

	md.Detect(&black)
	moved, pct := md.Detect(&white)
	assert.True(t, moved)
	assert.Greater(t, pct, 50.0)

	// After Reset the next frame primes again.
	md.Reset()
	moved, _ = md.Detect(&black)
	assert.False(t, moved)
}

func TestMotionDetectorSizeChangeReprimes(t *testing.T) {
	md := NewMotionDetector(1)
	defer md.Close()

	small := fixtures.SolidFrame(60, 80, 0, 0, 0)
	defer small.Close()
	large := fixtures.SolidFrame(120, 160, 255, 255, 255)
	defer large.Close()

	md.Detect(&small)
	moved, pct := md.Detect(&large)
	assert.False(t, moved)
	assert.Zero(t, pct)
}

func TestMotionDetectorEmptyAndClosed(t *testing.T) {
	md := NewMotionDetector(1)

	empty := gocv.NewMat()
	defer empty.Close()
	moved, _ := md.Detect(&empty)
	assert.False(t, moved)
	moved, _ = md.Detect(nil)
	assert.False(t, moved)

	md.Close()
	md.Close()

	frame := fixtures.SolidFrame(60, 80, 0, 0, 0)
	defer frame.Close()
	moved, _ = md.Detect(&frame)
	assert.False(t, moved, "a closed detector primes again")
}

func TestGate(t *testing.T) {
	g := NewGate(2 * time.Second)
	t0 := time.Unix(1000, 0)

	assert.False(t, g.Active())
	assert.False(t, g.Observe(false, t0))

	assert.True(t, g.Observe(true, t0))
	assert.True(t, g.Active())
	assert.False(t, g.Observe(true, t0.Add(time.Second)), "already active")

	assert.False(t, g.Observe(false, t0.Add(2*time.Second)))
	assert.True(t, g.Active(), "still within the idle timeout")

	assert.True(t, g.Observe(false, t0.Add(3500*time.Millisecond)))
	assert.False(t, g.Active())
}
