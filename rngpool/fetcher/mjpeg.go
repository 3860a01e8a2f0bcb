package fetcher

import (
	"bytes"
	"fmt"
	"io"

	"camrand/rngpool/model"
)

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// readFirstJPEG pulls the first complete JPEG frame out of an MJPEG
// (multipart/x-mixed-replace) stream by scanning for the SOI/EOI markers.
// Scanning is capped so a pathological stream cannot pin the round.
func (f *Fetcher) readFirstJPEG(body io.Reader) ([]byte, model.FailureKind, error) {
	var data bytes.Buffer
	chunk := make([]byte, 2048)
	scanned := 0

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			scanned += n
			if scanned > f.maxScan {
				return nil, model.FailureTooLarge, fmt.Errorf("no JPEG frame within %d bytes of stream", f.maxScan)
			}
			data.Write(chunk[:n])

			if end := bytes.Index(data.Bytes(), jpegEOI); end != -1 {
				frame := data.Bytes()[:end+2]
				if start := bytes.Index(frame, jpegSOI); start != -1 {
					frame = frame[start:]
				}
				out := make([]byte, len(frame))
				copy(out, frame)
				return out, "", nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil, model.FailureDecode, fmt.Errorf("stream ended before a complete JPEG frame")
			}
			return nil, model.FailureConnection, err
		}
	}
}
