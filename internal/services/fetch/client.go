package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amaumene/acerpal/internal/tracing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const userAgent = "acerpal/1.0"

// NetworkError means the call never produced an HTTP response
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// File is one multipart attachment
type File struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Request describes one logical HTTP call
type Request struct {
	URL     string
	Method  string // defaults to GET, or POST when a body is supplied
	Headers map[string]string

	// At most one body kind is used: Payload (JSON), then Form/Files
	Payload any
	Form    url.Values
	Files   []File

	// Callback, when set, receives the parsed body after the call returns
	Callback func(body any)
}

// Response is the parsed result of a call. Body is the decoded JSON value
// when the payload parses as JSON, otherwise the raw text.
type Response struct {
	Body       any
	StatusCode int
	RawBody    []byte
	Raw        *http.Response // body already consumed
}

// Decode unmarshals the raw body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.RawBody, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client performs exactly one network call per request, with no retries
type Client struct {
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logrus.Logger
}

// NewClient creates a new fetch client
func NewClient(timeout time.Duration, tp trace.TracerProvider, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: tracing.Tracer(tp),
		logger: logger,
	}
}

// Do sends the request and parses the response
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, err
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	ctx, span := c.tracer.Start(ctx, "fetch "+method, trace.WithAttributes(tracing.HTTPURLKey.String(r.URL)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    r.URL,
	}).Debug("Sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		nerr := &NetworkError{URL: r.URL, Err: err}
		tracing.RecordError(span, nerr)
		return nil, nerr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		nerr := &NetworkError{URL: r.URL, Err: err}
		tracing.RecordError(span, nerr)
		return nil, nerr
	}
	span.SetAttributes(tracing.HTTPCodeKey.Int(resp.StatusCode))

	result := &Response{
		Body:       parseBody(raw),
		StatusCode: resp.StatusCode,
		RawBody:    raw,
		Raw:        resp,
	}

	if r.Callback != nil {
		r.Callback(result.Body)
	}

	return result, nil
}

func parseBody(raw []byte) any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

func encodeBody(r Request) (io.Reader, string, error) {
	switch {
	case r.Payload != nil:
		data, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode payload: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil

	case len(r.Files) > 0:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for key, values := range r.Form {
			for _, v := range values {
				if err := w.WriteField(key, v); err != nil {
					return nil, "", fmt.Errorf("failed to write form field: %w", err)
				}
			}
		}
		for _, f := range r.Files {
			part, err := w.CreateFormFile(f.Field, f.Filename)
			if err != nil {
				return nil, "", fmt.Errorf("failed to create form file: %w", err)
			}
			if _, err := io.Copy(part, f.Content); err != nil {
				return nil, "", fmt.Errorf("failed to write form file: %w", err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
		}
		return &buf, w.FormDataContentType(), nil

	case len(r.Form) > 0:
		return strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}
