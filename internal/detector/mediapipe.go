package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	scriptName = "mediapipe_service.py"

	// idleTimeout stops the helper process after a quiet period.
	idleTimeout = 30 * time.Second
)

// ErrScriptNotFound is returned when the MediaPipe helper script is missing.
var ErrScriptNotFound = errors.New(scriptName + " not found")

// MediaPipeDetector runs hand detection in a Python MediaPipe helper.
// Frames go to the helper's stdin as a 4-byte big-endian length followed by
// JPEG bytes; the helper answers with one JSON line per frame.
type MediaPipeDetector struct {
	config Config
	script string
	python string
	log    *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	idleTimer *time.Timer
}

// NewMediaPipeDetector locates the helper script. The helper process itself
// starts on the first Detect call.
func NewMediaPipeDetector(config Config, log *zap.Logger) (*MediaPipeDetector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	script := config.ScriptPath
	if script == "" {
		script = findFile(scriptCandidates())
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, errors.Wrapf(ErrScriptNotFound, "stat %s", script)
	}

	python := config.Python
	if python == "" {
		python = findFile(venvCandidates())
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeDetector{
		config: config,
		script: script,
		python: python,
		log:    log,
	}, nil
}

// Detect sends frame to the helper and returns the filtered hands.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.start(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	defer buf.Close()
	data := buf.GetBytes()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := d.stdin.Write(header[:]); err != nil {
		d.stop()
		return nil, errors.Wrap(err, "write frame length")
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.stop()
		return nil, errors.Wrap(err, "write frame")
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.stop()
		return nil, errors.Wrap(err, "read helper response")
	}

	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Wrap(err, "parse helper response")
	}

	hands := make([]HandLandmarks, 0, len(resp.Hands))
	for _, h := range resp.Hands {
		hands = append(hands, h.landmarks())
	}

	d.touch()
	return d.config.filter(hands), nil
}

// Close stops the helper process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop()
}

func (d *MediaPipeDetector) start() error {
	if d.cmd != nil {
		return nil
	}

	cmd := exec.Command(d.python, d.script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "create stdout pipe")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start mediapipe helper")
	}

	d.log.Info("mediapipe helper started", zap.String("python", d.python), zap.String("script", d.script))
	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	return nil
}

func (d *MediaPipeDetector) stop() error {
	if d.cmd == nil {
		return nil
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	d.stdin.Close()
	err := d.cmd.Wait()
	d.cmd, d.stdin, d.stdout = nil, nil, nil
	d.log.Info("mediapipe helper stopped")
	return err
}

func (d *MediaPipeDetector) touch() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.stop(); err != nil {
			d.log.Warn("mediapipe helper exited", zap.Error(err))
		}
	})
}

func scriptCandidates() []string {
	var execDir string
	if p, err := os.Executable(); err == nil {
		execDir = filepath.Dir(p)
	}
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join("scripts", scriptName),
		filepath.Join("..", "scripts", scriptName),
		filepath.Join(execDir, "scripts", scriptName),
		filepath.Join(home, ".senas", "scripts", scriptName),
	}
}

func venvCandidates() []string {
	var execDir string
	if p, err := os.Executable(); err == nil {
		execDir = filepath.Dir(p)
	}
	home, _ := os.UserHomeDir()
	return []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(home, ".senas", "venv", "bin", "python"),
	}
}

// findFile returns the absolute path of the first existing candidate.
func findFile(candidates []string) string {
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}

type helperResponse struct {
	Hands []helperHand `json:"hands"`
}

type helperHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h helperHand) landmarks() HandLandmarks {
	lm := HandLandmarks{Handedness: h.Handedness, Score: h.Score}
	copy(lm.Points[:], h.Points)
	return lm
}
