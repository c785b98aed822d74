package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/sketchline/config"
)

var (
	pathOnce sync.Once
	libPath  string

	initOnce sync.Once
	initErr  error
)

func LibPath() string {
	pathOnce.Do(func() {
		libPath = loadLibPath(config.C().Libonnx)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

// candidates lists where the shared library is looked for when it is not
// configured, in order.
func candidates(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{filepath.Join("onnxlibs", "onnxruntime.dll"), "onnxruntime.dll"}
	}
	return nil
}

func loadLibPath(configured string) string {
	if configured != "" {
		return configured
	}
	paths := candidates(runtime.GOOS)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) > 0 {
		// Let the dynamic loader search its own path.
		return paths[len(paths)-1]
	}
	return ""
}

// Init points onnxruntime_go at the shared library and creates the
// process-wide environment. Only the first call does the work.
func Init() error {
	initOnce.Do(func() {
		path := LibPath()
		if path == "" {
			initErr = errors.New("onnx runtime library not found")
			return
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	})
	return initErr
}

// Destroy tears the environment down if Init created it.
func Destroy() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
