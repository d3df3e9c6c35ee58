package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// saveStrategy materializes a set of generated images to disk, returning the
// written paths. Strategies are tried in order; the first success wins.
type saveStrategy func(images []*tensor, prefix string) ([]string, error)

// defaultEnginePaths are the known generation-engine installation locations
// probed for the native save integration.
func defaultEnginePaths() []string {
	paths := []string{"/opt/ComfyUI"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "ComfyUI"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "ComfyUI"))
	}
	return paths
}

// saveNative writes into the generation engine's own output directory,
// discovered by probing the known installation locations. Unavailable when
// no installation is found.
func (e *Engine) saveNative(images []*tensor, prefix string) ([]string, error) {
	var engineDir string
	for _, p := range e.enginePaths {
		if info, err := os.Stat(filepath.Join(p, "comfy_extras")); err == nil && info.IsDir() {
			engineDir = p
			break
		}
	}
	if engineDir == "" {
		return nil, fmt.Errorf("engine installation not found in %v", e.enginePaths)
	}

	outDir := filepath.Join(engineDir, "output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine output dir: %w", err)
	}

	// Millisecond timestamp keeps repeated runs of the same prefix apart.
	unique := fmt.Sprintf("%s_%d", prefix, time.Now().UnixMilli())
	e.logger.Debug("native save", "dir", outDir, "prefix", unique)

	var paths []string
	for i, t := range images {
		img, err := t.toImage()
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s_%05d_.png", unique, i+1))
		if err := writePNG(path, img); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// saveFallback converts each image directly and writes it under the
// dedicated fallback directory. Filename collisions are resolved by an
// incrementing counter rather than locking; within a batch writes are
// sequential.
func (e *Engine) saveFallback(images []*tensor, prefix string) ([]string, error) {
	if err := os.MkdirAll(e.fallbackDir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}

	base := strings.ReplaceAll(prefix, "/", "_")
	ts := time.Now().UnixMilli()

	var paths []string
	for i, t := range images {
		img, err := t.toImage()
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}

		name := fmt.Sprintf("%s_%05d_%d.png", base, i+1, ts)
		path := filepath.Join(e.fallbackDir, name)
		for counter := 1; fileExists(path); counter++ {
			name = fmt.Sprintf("%s_%05d_%d_%03d.png", base, i+1, ts, counter)
			path = filepath.Join(e.fallbackDir, name)
		}

		if err := writePNG(path, img); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
