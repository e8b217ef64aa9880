package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// Snapshot is an immutable copy of a response as it was stored.
type Snapshot struct {
	Response *http.Response
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

// ResponseToBytes reads the complete response and returns its HTTP/1.1 representation,
// including the time it was stored.
// When it returns, the response body is rewound so it can still be read by the caller.
func ResponseToBytes(res *http.Response, storedAt time.Time) ([]byte, error) {
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}

	// write a detached copy so the caller's response stays untouched
	out := *res
	out.Header = res.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.UnixNano(), 10))
	out.ProtoMajor, out.ProtoMinor = 1, 1
	out.TransferEncoding = nil
	out.Close = false
	out.Request = nil
	out.ContentLength = int64(len(body))
	out.Body = io.NopCloser(bytes.NewReader(body))

	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToSnapshot converts bytes created with ResponseToBytes back to a response.
// Every call returns a fresh response with its own body reader.
func BytesToSnapshot(b []byte, req *http.Request) (Snapshot, error) {
	snap := Snapshot{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return snap, err
	}
	if _, err := ReadBody(res); err != nil {
		return snap, err
	}
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		snap.StoredAt = time.Unix(0, storedAt)
	}
	res.Header.Del(storedAtHeaderName)
	snap.Response = res
	return snap, nil
}

// ReadBody reads the whole response body into memory and replaces the body
// with an in-memory reader over the same bytes.
func ReadBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		res.ContentLength = 0
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return body, nil
}
