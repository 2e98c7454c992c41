// Package upload posts captured images to a relay's upload endpoint.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

// Form field names of the multipart body
const (
	FieldImage       = "image"
	FieldDisplayTime = "displayTime"
	FieldPosition    = "position"
	FieldUsername    = "username"
)

const maxErrorBody = 512

// Request is one broadcast to send
type Request struct {
	Image       []byte
	Filename    string
	DisplayTime int
	Position    protocol.Position
	Username    string
}

// Options configures a Coordinator
type Options struct {
	Client  *http.Client
	Timeout time.Duration // per attempt, default 30s
	// Token returns the bearer token of the current session, if any
	Token  func() string
	Logger *zerolog.Logger
}

// Coordinator turns a Request into a multipart POST
type Coordinator struct {
	client  *http.Client
	timeout time.Duration
	token   func() string
	log     zerolog.Logger
}

// New creates a Coordinator
func New(opts Options) *Coordinator {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Coordinator{
		client:  opts.Client,
		timeout: opts.Timeout,
		token:   opts.Token,
		log:     logger.With().Str("component", "upload").Logger(),
	}
}

// Upload sends req to the relay at relayAddress and returns the hosted image
// URL from the response. An https base that fails is retried exactly once
// over http.
func (c *Coordinator) Upload(ctx context.Context, relayAddress string, req Request) (string, error) {
	if len(req.Image) == 0 {
		return "", ErrEmptyImage
	}
	base, secure, err := protocol.HTTPBaseURL(relayAddress)
	if err != nil {
		return "", &UploadError{Attempts: []Attempt{{URL: relayAddress, Err: err}}}
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return "", err
	}

	bases := []string{base}
	if secure {
		bases = append(bases, protocol.InsecureFallback(base))
	}

	var attempts []Attempt
	for _, b := range bases {
		target := b + protocol.UploadPath
		url, err := c.post(ctx, target, body, contentType)
		if err == nil {
			if len(attempts) > 0 {
				c.log.Warn().Str("url", target).Msg("Upload succeeded over insecure fallback")
			}
			return url, nil
		}
		c.log.Warn().Err(err).Str("url", target).Msg("Upload attempt failed")
		attempts = append(attempts, Attempt{URL: target, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return "", &UploadError{Attempts: attempts}
}

func (c *Coordinator) post(ctx context.Context, target string, body []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", contentType)
	if token := c.token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return "", &StatusError{Code: resp.StatusCode, Body: msg}
	}

	var out protocol.UploadResponse
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &out); err != nil {
			c.log.Debug().Err(err).Msg("Upload response is not JSON")
		}
	}
	return out.URL, nil
}

// encodeForm builds the multipart body once so a fallback attempt can resend it
func encodeForm(req Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := req.Filename
	if name == "" {
		name = "image"
	}
	part, err := w.CreateFormFile(FieldImage, name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}

	position := req.Position
	if p, err := protocol.ParsePosition(string(position)); err == nil {
		position = p
	} else {
		position = protocol.PositionCenter
	}

	fields := [][2]string{
		{FieldDisplayTime, strconv.Itoa(protocol.ClampDisplayTime(float64(req.DisplayTime)))},
		{FieldPosition, string(position)},
		{FieldUsername, req.Username},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
