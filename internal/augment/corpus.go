package augment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/metrics"
)

// VideoExts are the container formats decoded frame by frame.
var VideoExts = []string{".webm", ".mp4", ".avi", ".mov"}

// ImageExts are still images treated as single-frame sources.
var ImageExts = []string{".jpg", ".jpeg", ".png"}

type source struct {
	class string
	path  string
	video bool
}

// PrepareCorpus reads src/<class>/<file> and writes, for every decoded frame,
// dst/<class>/<stem>_frame_<n>.jpg followed by its augmented variants
// <stem>_frame_<n>_aug_<k>.jpg. It returns the number of files written per
// class. Sources are processed concurrently, at most config.Workers at a time.
func (a *Augmenter) PrepareCorpus(ctx context.Context, src, dst string) (map[string]int, error) {
	sources, err := listSources(src)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errors.Errorf("no videos or images under %s", src)
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int)
	)
	for _, s := range sources {
		if _, ok := counts[s.class]; !ok {
			if err := os.MkdirAll(filepath.Join(dst, s.class), 0o755); err != nil {
				return nil, errors.Wrapf(err, "create output dir for %s", s.class)
			}
			counts[s.class] = 0
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)
	for _, s := range sources {
		s := s
		g.Go(func() error {
			n, err := a.processSource(ctx, s, filepath.Join(dst, s.class))
			if err != nil {
				return err
			}
			mu.Lock()
			counts[s.class] += n
			mu.Unlock()
			metrics.AddAugmentedFrames(s.class, n)
			a.log.Debug("source processed",
				zap.String("class", s.class),
				zap.String("path", s.path),
				zap.Int("files", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}

	for class, n := range counts {
		a.log.Info("class prepared", zap.String("class", class), zap.Int("files", n))
	}
	return counts, nil
}

func listSources(root string) ([]source, error) {
	classes, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read corpus root %s", root)
	}

	var out []source
	for _, c := range classes {
		if !c.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, c.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read class dir %s", c.Name())
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(f.Name()))
			switch {
			case hasExt(VideoExts, ext):
				out = append(out, source{class: c.Name(), path: filepath.Join(root, c.Name(), f.Name()), video: true})
			case hasExt(ImageExts, ext):
				out = append(out, source{class: c.Name(), path: filepath.Join(root, c.Name(), f.Name())})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func hasExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

func (a *Augmenter) processSource(ctx context.Context, s source, outDir string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))

	if !s.video {
		frame, err := features.DecodeImageFile(s.path)
		if err != nil {
			return 0, err
		}
		defer frame.Close()
		return a.writeFrame(frame, outDir, stem, 0)
	}

	capture, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return 0, &features.DecodeError{Source: s.path, Err: err}
	}
	defer capture.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	written := 0
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}
		w, err := a.writeFrame(frame, outDir, stem, n)
		written += w
		if err != nil {
			return written, errors.Wrapf(err, "%s frame %d", s.path, n)
		}
	}
	if written == 0 {
		a.log.Warn("no frames decoded", zap.String("path", s.path))
	}
	return written, nil
}

// writeFrame stores frame and its variants. It returns the number of files
// written.
func (a *Augmenter) writeFrame(frame gocv.Mat, outDir, stem string, n int) (int, error) {
	base := fmt.Sprintf("%s_frame_%d", stem, n)
	if err := writeJPEG(filepath.Join(outDir, base+".jpg"), frame); err != nil {
		return 0, err
	}

	variants, err := a.Augment(frame)
	if err != nil {
		return 1, err
	}
	defer func() {
		for _, v := range variants {
			v.Close()
		}
	}()

	for k, v := range variants {
		if err := writeJPEG(filepath.Join(outDir, fmt.Sprintf("%s_aug_%d.jpg", base, k)), v); err != nil {
			return 1 + k, err
		}
	}
	return 1 + len(variants), nil
}

func writeJPEG(path string, m gocv.Mat) error {
	if ok := gocv.IMWrite(path, m); !ok {
		return errors.Errorf("write %s", path)
	}
	return nil
}
