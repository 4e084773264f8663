package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const inputFileName = "input.txt"

// Workspace is the exclusively owned scratch directory of one execution.
type Workspace struct {
	Dir        string
	SourceName string
	InputName  string
}

// SourcePath is the host path of the copied source file.
func (w *Workspace) SourcePath() string {
	return filepath.Join(w.Dir, w.SourceName)
}

// InputPath is the host path of the copied stdin file, or "" without input.
func (w *Workspace) InputPath() string {
	if w.InputName == "" {
		return ""
	}
	return filepath.Join(w.Dir, w.InputName)
}

// newWorkspace creates run-<uuid> under baseDir and copies the source and the
// optional stdin file into it. The caller must call Remove.
// A missing stdin file means the guest runs without input.
func newWorkspace(baseDir string, lang Language, sourcePath, stdinPath string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create work root %s: %w", baseDir, err)
	}
	dir := filepath.Join(baseDir, "run-"+uuid.NewString())
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	ws := &Workspace{Dir: dir, SourceName: lang.SourceFile}
	if err := copyFile(sourcePath, ws.SourcePath()); err != nil {
		ws.Remove()
		return nil, fmt.Errorf("copy source: %w", err)
	}
	if stdinPath != "" {
		if _, err := os.Stat(stdinPath); err == nil {
			ws.InputName = inputFileName
			if err := copyFile(stdinPath, ws.InputPath()); err != nil {
				ws.Remove()
				return nil, fmt.Errorf("copy input: %w", err)
			}
		}
	}
	return ws, nil
}

// Remove deletes the directory and everything in it.
func (w *Workspace) Remove() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
