package ext

import (
	"bufio"
	"io"
)

type jsonReader struct {
	reader  *bufio.Reader
	started bool
}

// NewJsonReader returns a reader that discards everything preceding the
// first "{" or "[" of the underlying stream. Scanners print banners and
// progress lines before their JSON document.
func NewJsonReader(reader io.Reader) io.Reader {
	return &jsonReader{reader: bufio.NewReader(reader)}
}

func (j *jsonReader) Read(p []byte) (int, error) {
	if !j.started {
		for {
			b, err := j.reader.ReadByte()
			if err != nil {
				return 0, err
			}
			if b == '{' || b == '[' {
				if err := j.reader.UnreadByte(); err != nil {
					return 0, err
				}
				j.started = true
				break
			}
		}
	}
	return j.reader.Read(p)
}
