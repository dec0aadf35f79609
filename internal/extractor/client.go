package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lostmatch/internal/models"
)

/*
LEARNING: EXTRACTORS AS A BLACK BOX

The actual vision models (perceptual hashing, OCR, object detection, the
embedding network) live in a separate inference sidecar. This client only
knows the fixed output contracts, so models can be swapped or upgraded
without touching the matching engine.

Degradation contract: a normal "no signal present" case (no text in the
photo, no recognizable object) comes back as an empty payload, NOT an HTTP
error. Only transport failures and 5xx are errors here.
*/

// Client talks to the feature-extraction sidecar over HTTP
type Client struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// photoRequest is the common request body: the sidecar dereferences the URL
type photoRequest struct {
	PhotoURL string `json:"photo_url"`
}

// HashTriplet is the perceptual/average/difference hash output,
// each a 64-bit hash as 16 hex chars
type HashTriplet struct {
	Perceptual string `json:"perceptual"`
	Average    string `json:"average"`
	Difference string `json:"difference"`
}

// ColorResult is the dominant-color extraction output
type ColorResult struct {
	Colors    []models.DominantColor `json:"colors"`
	ColorCode string                 `json:"color_code"`
}

// OCRResult carries recognized text; empty Text means no text found
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// LabelResult carries detected object labels and a coarse shape guess
type LabelResult struct {
	Labels []string `json:"labels"`
	Shape  string   `json:"shape"` // e.g. "rect", "round", "flat"
}

// EmbedResult is the core neural output: the general-purpose embedding plus
// the entity classification and a photo quality estimate
type EmbedResult struct {
	Embedding        []float32         `json:"embedding"`
	EntityType       models.EntityType `json:"entity_type"`
	EntityConfidence float64           `json:"entity_confidence"`
	QualityScore     int               `json:"quality_score"` // 0-100 from resolution/blur/model confidence
}

// Hashes computes the perceptual hash triplet for a photo
func (c *Client) Hashes(ctx context.Context, photoURL string) (*HashTriplet, error) {
	var out HashTriplet
	if err := c.post(ctx, "/hash", photoURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Colors extracts the dominant-color fingerprint
func (c *Client) Colors(ctx context.Context, photoURL string) (*ColorResult, error) {
	var out ColorResult
	if err := c.post(ctx, "/colors", photoURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OCR runs text recognition. A photo with no text returns an empty Text,
// which callers record as an absent signal.
func (c *Client) OCR(ctx context.Context, photoURL string) (*OCRResult, error) {
	var out OCRResult
	if err := c.post(ctx, "/ocr", photoURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Labels runs object detection
func (c *Client) Labels(ctx context.Context, photoURL string) (*LabelResult, error) {
	var out LabelResult
	if err := c.post(ctx, "/labels", photoURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embed produces the neural embedding, entity classification and quality
// estimate. This is the core signal: if it fails AND hashing fails, the
// fingerprint build fails as a whole.
func (c *Client) Embed(ctx context.Context, photoURL string) (*EmbedResult, error) {
	var out EmbedResult
	if err := c.post(ctx, "/embed", photoURL, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("sidecar returned empty embedding")
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, photoURL string, out any) error {
	reqBody, err := json.Marshal(photoRequest{PhotoURL: photoURL})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 204 = extractor ran fine but found no signal; leave out zero-valued
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("extractor %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
