// Package faceapi talks to the external face detection/embedding service.
// Detection and embedding extraction are collaborator concerns; this client
// only carries frames out and face boxes plus vectors back.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"timekeeper-go/internal/config"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "faceapi",
}

// Face is one detected face with its embedding vector.
type Face struct {
	// BoundingBox holds the face coordinates in the frame (x1, y1, x2, y2).
	BoundingBox []int `json:"bbox"`
	// Confidence is the detection probability (0-1).
	Confidence float64 `json:"confidence"`
	// Embedding is the face vector used for identity lookup.
	Embedding []float32 `json:"embedding,omitempty"`
}

type infoResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Backend   string   `json:"backend"`
	Providers []string `json:"providers"`
}

type extractResponse struct {
	Status      string  `json:"status"`
	FacesCount  int     `json:"faces_count"`
	Faces       []Face  `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// Client implements the HTTP communication with the face service.
type Client struct {
	cfg        config.FaceAPIConfig
	httpClient *http.Client
}

// NewClient creates a new face service client.
func NewClient(cfg config.FaceAPIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Ping checks whether the face service is reachable.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/info", c.cfg.URL), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to reach face service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("face service not available, status: %d", resp.StatusCode)
	}

	var info infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return info.Status == "ok", nil
}

// encodeImage encodes a frame as JPEG for transfer.
func encodeImage(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractFaces sends one frame to the face service and returns the detected
// faces with their embeddings. No detected face yields an empty slice, not
// an error.
func (c *Client) ExtractFaces(ctx context.Context, img image.Image) ([]Face, error) {
	imgData, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imgData)); err != nil {
		return nil, fmt.Errorf("failed to copy frame data: %w", err)
	}

	if err := writer.WriteField("threshold", fmt.Sprintf("%.2f", c.cfg.DetProbThreshold)); err != nil {
		log.WithFields(logFields).Warnf("Failed to add threshold parameter: %v", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		log.WithFields(logFields).Warnf("Failed to add extract_embedding parameter: %v", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/extract", c.cfg.URL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	log.WithFields(logFields).Debugf("Face extraction request took %s", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	log.WithFields(logFields).Debugf("Face service detected %d faces", result.FacesCount)
	return result.Faces, nil
}
