package source

import (
	"fmt"
	"os"
)

func (l *Loader) loadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > l.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, l.cfg.MaxFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return l.readLimited(f)
}
