// Package detector calls an HTTP inference service that returns vehicle boxes for a JPEG
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/services/detection/domain"
)

const (
	defaultURL       = "http://localhost:8000/predict"
	defaultField     = "file"
	defaultUA        = "stallwatch-detection"
	defaultMaxBody   = 4 << 20
	defaultHealthURI = "/health"
)

// Options configures the HTTP detector
type Options struct {
	URL       string
	Field     string
	UserAgent string
	// Timeout is a ceiling on the whole exchange; callers also bound each call by ctx
	Timeout time.Duration
}

// HTTP posts a frame as multipart form data and decodes the detections
type HTTP struct {
	http *http.Client
	opts Options
	log  logger.Logger
}

var _ domain.Detector = (*HTTP)(nil)

// NewHTTP creates an HTTP detector with defaults filled in
func NewHTTP(o Options) *HTTP {
	if strings.TrimSpace(o.URL) == "" {
		o.URL = defaultURL
	}
	if o.Field == "" {
		o.Field = defaultField
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	return &HTTP{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  *logger.Named("detector"),
	}
}

type wireDetection struct {
	ClassID    int       `json:"class_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detect implements domain.Detector; every failure is a DetectorError
func (c *HTTP) Detect(ctx context.Context, f domain.Frame) ([]occupancy.Detection, error) {
	if len(f.JPEG) == 0 {
		return nil, perr.Detectorf("empty frame for lot %d", f.LotID)
	}
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(c.opts.Field, "frame.jpg")
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "create form file")
	}
	if _, err := part.Write(f.JPEG); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "write form file")
	}
	if err := w.Close(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, body)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "new detector request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, perr.Wrapf(err, perr.ErrorCodeDetector, "detector timed out after %s", time.Since(start).Round(time.Millisecond))
		}
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "detector request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, defaultMaxBody))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, perr.Detectorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out wireResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, defaultMaxBody)).Decode(&out); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDetector, "decode detector response")
	}

	dets := make([]occupancy.Detection, 0, len(out.Detections))
	for i, d := range out.Detections {
		if len(d.Box) != 4 {
			return nil, perr.Detectorf("detection %d: box has %d values, want 4", i, len(d.Box))
		}
		dets = append(dets, occupancy.Detection{
			ClassID:    d.ClassID,
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        geometry.Box(d.Box[0], d.Box[1], d.Box[2], d.Box[3]),
		})
	}
	c.log.Debug().Int64("lot_id", f.LotID).Int("detections", len(dets)).
		Dur("took", time.Since(start)).Msg("detector call")
	return dets, nil
}

// Ping reports whether the inference service answers its health endpoint
func (c *HTTP) Ping(ctx context.Context) error {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDetector, "parse detector url")
	}
	u.Path, u.RawQuery = defaultHealthURI, ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDetector, "new health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDetector, "detector unreachable")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return perr.Detectorf("detector unhealthy: %d", resp.StatusCode)
	}
	return nil
}
