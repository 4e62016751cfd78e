package transfer

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"time"
)

// ErrInterrupted is returned by Hash when cancelled returns true
// before the requested byte range has been fully read.
var ErrInterrupted = errors.New("transfer: hash computation interrupted")

// hashChunkSize is the read granularity at which the cancellation
// flag is checked and keepalive timing is evaluated.
const hashChunkSize = 1 << 20 // 1 MiB

// keepaliveInterval is how often, at minimum, the keepalive callback
// fires while a hash computation is in progress.
const keepaliveInterval = 10 * time.Second

// Hash computes the SHA-256 of the first maxBytes of the file at
// path (the whole file when maxBytes is 0), reading in 1 MiB chunks.
// keepalive, if non-nil, is invoked at most once per keepaliveInterval
// to let the caller emit a FileHashing keepalive event on a long hash.
// cancelled, if non-nil, is polled once per chunk; once it reports
// true, Hash stops and returns ErrInterrupted.
func Hash(path string, maxBytes uint64, keepalive func(), cancelled func() bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return hashReader(bufio.NewReaderSize(f, hashChunkSize), maxBytes, keepalive, cancelled)
}

func hashReader(r io.Reader, maxBytes uint64, keepalive func(), cancelled func() bool) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	var remaining uint64
	unbounded := maxBytes == 0
	if !unbounded {
		remaining = maxBytes
	}

	lastKeepalive := time.Now()

	for unbounded || remaining > 0 {
		if cancelled != nil && cancelled() {
			return "", ErrInterrupted
		}

		want := hashChunkSize
		if !unbounded && uint64(want) > remaining {
			want = int(remaining)
		}

		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			h.Write(buf[:n])
			if !unbounded {
				remaining -= uint64(n)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}

		if keepalive != nil && time.Since(lastKeepalive) >= keepaliveInterval {
			keepalive()
			lastKeepalive = time.Now()
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
