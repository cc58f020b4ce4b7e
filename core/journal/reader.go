package journal

import (
	"fmt"
	"io"
	"os"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// Reader iterates the records of a list of journal files in order.
type Reader struct {
	paths []string
	reg   *wire.Registry

	file *os.File
	dec  *wire.Decoder
}

// NewReader resolves message types through reg, or wire.DefaultRegistry if
// reg is nil.
func NewReader(paths []string, reg *wire.Registry) *Reader {
	return &Reader{paths: paths, reg: reg}
}

// Next returns the next record, or io.EOF once every file is exhausted.
func (r *Reader) Next() (wire.Message, error) {
	for {
		if r.dec == nil {
			if len(r.paths) == 0 {
				return nil, io.EOF
			}
			if err := r.open(r.paths[0]); err != nil {
				return nil, err
			}
			r.paths = r.paths[1:]
		}
		if !r.dec.More() {
			if err := r.closeFile(); err != nil {
				return nil, err
			}
			continue
		}
		msg := r.dec.ReadMessage()
		if err := r.dec.Err(); err != nil {
			name := r.file.Name()
			_ = r.closeFile()
			return nil, fmt.Errorf("journal: read %s: %w", name, err)
		}
		return msg, nil
	}
}

func (r *Reader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	r.file = f
	r.dec = wire.NewDecoder(f, r.reg)
	return nil
}

func (r *Reader) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.dec = nil, nil
	return err
}

func (r *Reader) Close() error {
	r.paths = nil
	return r.closeFile()
}
