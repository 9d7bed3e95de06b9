package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// RuntimeLibEnv overrides the onnxruntime shared library location.
const RuntimeLibEnv = "ONNXRUNTIME_LIB"

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

func runtimeLibName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// LocateRuntimeLibrary looks for the onnxruntime shared library next to the
// executable, in the working directory and in their "src" subdirectories.
// When nothing is found the bare library name is returned so the system
// loader search path gets a chance; tried lists the directories checked.
func LocateRuntimeLibrary() (path string, tried []string) {
	if p := os.Getenv(RuntimeLibEnv); p != "" {
		return p, []string{p}
	}
	name := runtimeLibName()
	var dirs []string
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "src"))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd, filepath.Join(cwd, "src"))
	}
	for _, d := range dirs {
		tried = append(tried, d)
		if p := filepath.Join(d, name); fileExists(p) {
			return p, tried
		}
	}
	return name, tried
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// InitRuntime loads the onnxruntime shared library and initializes the
// process-wide environment. Only the first call does any work; later calls
// return the first result.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		var tried []string
		if libPath == "" {
			libPath, tried = LocateRuntimeLibrary()
		} else if !fileExists(libPath) {
			runtimeErr = fmt.Errorf("onnxruntime library %s not found", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			if len(tried) > 0 {
				runtimeErr = fmt.Errorf("initialize onnxruntime from %s (searched %s): %w", libPath, strings.Join(tried, ", "), err)
			} else {
				runtimeErr = fmt.Errorf("initialize onnxruntime from %s: %w", libPath, err)
			}
		}
	})
	return runtimeErr
}
