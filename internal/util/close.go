package util

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
)

// Close closes a resource and logs any error under name.
func (l *Logger) Close(closer io.Closer, name string) {
	if closer == nil {
		return
	}
	val := reflect.ValueOf(closer)
	if val.Kind() == reflect.Ptr && val.IsNil() {
		return
	}
	if err := closer.Close(); err != nil {
		if name == "" {
			l.Warnf("close error: %v", err)
			return
		}
		l.Warnf("close %s: %v", name, err)
	}
}

// EnsureParentDir creates the directory holding path if needed.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
