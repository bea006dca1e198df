// Package assets fetches and prepares the image bytes referenced by captured
// pages: HTTP retrieval with size caps, transparent decompression, caching,
// prefetching and format transcoding.
package assets

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Reader pools keep decompressor state out of the per-request allocation path.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

// Pooled readers are parked on an empty stream; gzip.Reset(nil) reads a
// header unconditionally and would panic.
var emptyStream = strings.NewReader("")

func acquireGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func releaseGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	_ = zr.Reset(emptyStream)
	gzipReaderPool.Put(zr)
}

func acquireBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func releaseBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyStream)
	brotliReaderPool.Put(br)
}

// DecompressionTransport is an http.RoundTripper that negotiates compression
// on outgoing requests and unwraps the response body. It handles brotli, gzip
// and both zlib-wrapped and raw deflate streams, layered encodings included.
//
// The wrapped transport must not decompress on its own; set
// http.Transport.DisableCompression when composing.
type DecompressionTransport struct {
	Transport http.RoundTripper
}

// NewDecompressionTransport wraps a transport, defaulting to
// http.DefaultTransport when nil.
func NewDecompressionTransport(transport http.RoundTripper) *DecompressionTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &DecompressionTransport{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (t *DecompressionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decompressResponse(resp); err != nil {
		// The body may be partially consumed at this point; discard it.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unwrapping response encoding: %w", err)
	}
	return resp, nil
}

// decodedBody closes the decompressor, returns pooled readers, and closes the
// underlying connection body.
type decodedBody struct {
	io.ReadCloser
	wrapped io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.wrapped.Close())
}

// decompressResponse replaces resp.Body with a reader chain that undoes each
// Content-Encoding layer in reverse application order. On success the
// encoding and length headers are cleared and resp.Uncompressed is set.
func decompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var (
			reader  io.ReadCloser
			release func()
		)
		switch encoding {
		case "gzip":
			zr, err := acquireGzipReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip layer: %w", err)
			}
			reader = zr
			release = func() { releaseGzipReader(zr) }

		case "deflate":
			dr, err := deflateReader(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate layer: %w", err)
			}
			reader = dr

		case "br":
			br, err := acquireBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli layer: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() { releaseBrotliReader(br) }

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding %q", encoding)
		}

		resp.Body = &decodedBody{
			ReadCloser: reader,
			wrapped:    resp.Body,
			release:    release,
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// replayableReader buffers what has been read so a failed zlib probe can be
// replayed through the raw deflate decoder.
type replayableReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newReplayableReader(r io.Reader) *replayableReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &replayableReader{
		r:      io.TeeReader(r, buf),
		buf:    buf,
		source: r,
	}
}

func (rr *replayableReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

func (rr *replayableReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// deflateReader decodes a "deflate" body. Servers disagree on whether that
// means zlib (RFC 1950) or a raw stream (RFC 1951), so probe zlib first and
// fall back.
func deflateReader(r io.Reader) (io.ReadCloser, error) {
	rr := newReplayableReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		return zr, nil
	}
	rr.rewind()
	return flate.NewReader(rr), nil
}
