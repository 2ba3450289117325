package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
)

// DumpOutput receives the full text of every http exchange an instrumented client makes.
type DumpOutput interface {
	Write(id string, contents string)
}

// FilesystemDump writes each exchange to its own file named by request id.
type FilesystemDump struct {
	directory string
}

// NewFilesystemDump clears out dir and recreates it.
func NewFilesystemDump(dir string) (FilesystemDump, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemDump{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemDump{}, err
	}
	return FilesystemDump{directory: dir}, nil
}

func (o FilesystemDump) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
