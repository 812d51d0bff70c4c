// Package camera grabs still JPEG frames from http(s) endpoints, MJPEG streams and files
package camera

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	perr "stallwatch/internal/platform/errors"
)

const (
	defaultMaxBytes = 16 << 20
	defaultUA       = "stallwatch-capture"
)

// Source returns one JPEG per call
type Source interface {
	Grab(ctx context.Context) ([]byte, error)
}

// Options configures sources built by Open
type Options struct {
	// Timeout bounds one http grab; zero leaves it to ctx
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
}

// Open picks a source for uri; unsupported schemes are ConfigErrors
func Open(uri string, o Options) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "parse camera uri %q", uri)
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = defaultMaxBytes
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, perr.Configf("camera uri %q has no host", uri)
		}
		c := o.Client
		if c == nil {
			c = &http.Client{Timeout: o.Timeout}
		}
		return &httpSource{client: c, url: u.String(), max: o.MaxBytes}, nil
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" {
			return nil, perr.Configf("camera uri %q has no path", uri)
		}
		return &fileSource{path: p, max: o.MaxBytes}, nil
	default:
		return nil, perr.Configf("unsupported camera scheme %q", u.Scheme)
	}
}

type httpSource struct {
	client *http.Client
	url    string
	max    int64
}

// Grab fetches a still image, or the first part of a multipart/x-mixed-replace stream
func (s *httpSource) Grab(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "new camera request")
	}
	req.Header.Set("User-Agent", defaultUA)
	req.Header.Set("Accept", "image/jpeg, multipart/x-mixed-replace")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "camera request failed")
	}
	// closing mid stream ends an MJPEG connection after the first part
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, perr.Unavailablef("camera returned %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	mt, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mt, "multipart/") {
		boundary := strings.TrimPrefix(params["boundary"], "--")
		if boundary == "" {
			return nil, perr.Unavailablef("camera stream without boundary")
		}
		part, err := multipart.NewReader(resp.Body, boundary).NextPart()
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "read first stream part")
		}
		defer func() { _ = part.Close() }()
		body = part
	}
	return readJPEG(body, s.max)
}

type fileSource struct {
	path string
	max  int64
}

// Grab rereads the file each call so replays can swap it underneath
func (s *fileSource) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeResource, "open camera file %s", s.path)
	}
	defer func() { _ = f.Close() }()
	return readJPEG(f, s.max)
}

var soi = []byte{0xff, 0xd8}

func readJPEG(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "read frame")
	}
	if int64(len(b)) > max {
		return nil, perr.Unavailablef("frame exceeds %d bytes", max)
	}
	if !bytes.HasPrefix(b, soi) {
		return nil, perr.Unavailablef("frame is not a jpeg (%d bytes)", len(b))
	}
	return b, nil
}
