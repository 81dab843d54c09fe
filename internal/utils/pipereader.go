package utils

import (
	"io"
	"net/http"
)

const BUF_LEN = 32 * 1024

// CopyToHTTP copies r to w, flushing after every chunk so that live data
// reaches the client without delay. It returns the number of bytes written
// and the first error other than io.EOF.
func CopyToHTTP(w http.ResponseWriter, r io.Reader) (int64, error) {
	buffer := make([]byte, BUF_LEN)
	flusher, _ := w.(http.Flusher)

	var written int64
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			m, werr := w.Write(buffer[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}

			if flusher != nil {
				flusher.Flush()
			}
		}

		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
