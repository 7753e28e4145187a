// Package inference is an HTTP client for the face detection and embedding service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 5 * time.Minute
)

// DetectOptions controls face detection and the embedding of each detected face.
type DetectOptions struct {
	ModelName        string
	DetectorBackend  string
	Normalization    string
	Align            bool
	EnforceDetection bool
	ExpandPercentage int
}

// EmbedOptions controls embedding of a single-face reference image.
type EmbedOptions struct {
	ModelName       string
	DetectorBackend string
	Normalization   string
	Align           bool
}

// Detection is one face returned by the service.
type Detection struct {
	Area       database.FacialArea `json:"facial_area"`
	Confidence float64             `json:"confidence"`
	Embedding  []float32           `json:"embedding"`
}

type detectResponse struct {
	Faces []Detection `json:"faces"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Client talks to the inference service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new inference client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Detect finds faces in the image at imagePath and returns each with its embedding.
func (c *Client) Detect(ctx context.Context, imagePath string, opts DetectOptions) ([]Detection, error) {
	fields := map[string]string{
		"model_name":        opts.ModelName,
		"detector_backend":  opts.DetectorBackend,
		"normalization":     opts.Normalization,
		"align":             strconv.FormatBool(opts.Align),
		"enforce_detection": strconv.FormatBool(opts.EnforceDetection),
		"expand_percentage": strconv.Itoa(opts.ExpandPercentage),
	}
	body, err := c.postImage(ctx, "/detect", imagePath, fields)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Faces, nil
}

// Embed returns the embedding of the face in a reference image. A nil embedding with
// a nil error means the service found no face.
func (c *Client) Embed(ctx context.Context, imagePath string, opts EmbedOptions) ([]float32, error) {
	fields := map[string]string{
		"model_name":       opts.ModelName,
		"detector_backend": opts.DetectorBackend,
		"normalization":    opts.Normalization,
		"align":            strconv.FormatBool(opts.Align),
	}
	body, err := c.postImage(ctx, "/embed", imagePath, fields)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, nil
	}
	return resp.Embedding, nil
}

// postImage sends the file at imagePath plus form fields as multipart/form-data.
func (c *Client) postImage(ctx context.Context, endpoint, imagePath string, fields map[string]string) ([]byte, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
