// Package submit talks to the LEXIFY persistence boundary: it loads the
// signed-in user's context and delivers composed requests as one multipart
// submission.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/logger"
)

// Multipart part names expected by the boundary.
const (
	PartData            = "data"
	PartBackgroundFiles = "backgroundFiles"
	PartSupplierFiles   = "supplierFiles"
)

// Endpoint paths relative to the base URL.
const (
	RequestsPath = "/api/requests"
	MePath       = "/api/me"
)

// GenericFailureMessage is shown when the boundary gives no usable reason.
const GenericFailureMessage = "Failed to submit request."

const maxErrorBody = 64 << 10

// Failure is a rejected or failed submission. Message is meant for the user
// verbatim.
type Failure struct {
	StatusCode int // 0 for transport errors
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Client is an HTTP client for the persistence boundary.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the boundary at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends rec and its attachments in one POST. It never retries. Any
// failure is returned as a *Failure; errors opening attachments are
// returned as is, before anything is sent.
func (c *Client) Submit(ctx context.Context, rec *form.Record, files form.Attachments) (*form.Receipt, error) {
	body, contentType, err := encodeMultipart(rec, files)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RequestsPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Request submission failed", "error", err)
		return nil, &Failure{Message: GenericFailureMessage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f := readFailure(resp)
		logger.Warn("Request submission rejected", "status", resp.StatusCode, "message", f.Message)
		return nil, f
	}

	var receipt form.Receipt
	// The success body is owned by the boundary; an unexpected shape still
	// means the request was stored.
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("Unrecognized submission response", "error", err)
	}
	logger.Info("Request submitted", "id", receipt.ID, "assignmentType", rec.AssignmentType)
	return &receipt, nil
}

// CurrentUser loads the signed-in user's company and contact persons.
func (c *Client) CurrentUser(ctx context.Context) (*form.UserContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+MePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load user context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f := readFailure(resp)
		return nil, fmt.Errorf("failed to load user context: %w", f)
	}

	var user form.UserContext
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user context: %w", err)
	}
	return &user, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readFailure picks the user-facing message of a non-2xx response: the
// JSON "error" field, else the raw body, else the generic message.
func readFailure(resp *http.Response) *Failure {
	f := &Failure{StatusCode: resp.StatusCode, Message: GenericFailureMessage}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		f.Err = err
		return f
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && strings.TrimSpace(payload.Error) != "" {
		f.Message = strings.TrimSpace(payload.Error)
		return f
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		f.Message = text
	}
	return f
}

// encodeMultipart writes the record as the data part followed by every
// attachment, background files first, each slot in selection order.
func encodeMultipart(rec *form.Record, files form.Attachments) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode record: %w", err)
	}
	if err := w.WriteField(PartData, string(data)); err != nil {
		return nil, "", err
	}

	for _, part := range []struct {
		name  string
		files []form.Attachment
	}{
		{PartBackgroundFiles, files.Background},
		{PartSupplierFiles, files.Supplier},
	} {
		for _, a := range part.files {
			if err := writeFile(w, part.name, a); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(w *multipart.Writer, field string, a form.Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(a.Filename)))
	h.Set("Content-Type", contentType)

	dst, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	src, err := a.Open()
	if err != nil {
		return fmt.Errorf("failed to open attachment %s: %w", a.Filename, err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", a.Filename, err)
	}
	return nil
}
