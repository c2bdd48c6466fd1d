// Package durable implements the asset persister's Provider interface
// against a Cloudinary-style upload-by-URL API: given any source URL
// (including base64 data URLs), it returns a durable, provider-hosted URL.
package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/fluxpanel/workflow-engine/services/assets"
)

// Client talks to a Cloudinary-compatible "upload" endpoint.
type Client struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewClient constructs a durable asset provider client. httpClient may be
// nil to use http.DefaultClient.
func NewClient(cloudName, apiKey, apiSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cloudName: cloudName, apiKey: apiKey, apiSecret: apiSecret, httpClient: httpClient}
}

func (c *Client) Name() string { return "cloudinary" }

// IsDurableURL reports whether rawURL already points at this provider's CDN.
func (c *Client) IsDurableURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Host, "res.cloudinary.com")
}

type uploadResponse struct {
	SecureURL    string `json:"secure_url"`
	URL          string `json:"url"`
	Format       string `json:"format"`
	ResourceType string `json:"resource_type"`
}

// UploadFromURL uploads sourceURL (a remote URL or a base64 data URL) to
// durable storage and returns the provider-hosted URL and inferred MIME
// type.
func (c *Client) UploadFromURL(ctx context.Context, sourceURL string, kind assets.Kind) (string, string, error) {
	resourceType := "image"
	if kind == assets.KindVideo {
		resourceType = "video"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("file", sourceURL); err != nil {
		return "", "", fmt.Errorf("durable: build upload form: %w", err)
	}
	if err := mw.WriteField("upload_preset", "unsigned"); err != nil {
		return "", "", fmt.Errorf("durable: build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", "", fmt.Errorf("durable: build upload form: %w", err)
	}

	endpoint := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/%s/upload", c.cloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", "", fmt.Errorf("durable: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	slog.Info("uploading asset to durable storage", "provider", c.Name(), "resourceType", resourceType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("durable: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("durable: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("durable: upload returned %d: %s", resp.StatusCode, string(body))
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", fmt.Errorf("durable: decode response: %w", err)
	}

	durableURL := out.SecureURL
	if durableURL == "" {
		durableURL = out.URL
	}
	mimeType := ""
	if out.ResourceType != "" && out.Format != "" {
		mimeType = out.ResourceType + "/" + out.Format
	}
	return durableURL, mimeType, nil
}
