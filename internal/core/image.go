package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultImageModel = "black-forest-labs/FLUX.1-schnell-Free"

// ImageProvider turns a prompt into a base64 encoded image.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error)
}

type GeneratedImage struct {
	B64       string
	Model     string
	Width     int
	Height    int
	ConfigRaw string // JSON of the request parameters, without the prompt
}

// DataURL renders the image for direct use in an <img> tag.
func (g *GeneratedImage) DataURL() string {
	return DataURL(g.B64)
}

func DataURL(b64 string) string {
	return "data:image/png;base64," + b64
}

type ImageSettings struct {
	Model  string
	Width  int
	Height int
	Steps  int
}

type imageGenerationConfig struct {
	Model          string `json:"model"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageGenerationRequest struct {
	Prompt string `json:"prompt"`
	imageGenerationConfig
}

type imageGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// TogetherImageClient calls Together's /images/generations endpoint.
type TogetherImageClient struct {
	baseURL    string
	apiKey     string
	settings   ImageSettings
	httpClient *http.Client
}

func NewTogetherImageClient(baseURL, apiKey string, settings ImageSettings, httpClient *http.Client) *TogetherImageClient {
	if settings.Model == "" {
		settings.Model = DefaultImageModel
	}
	if settings.Width <= 0 {
		settings.Width = 512
	}
	if settings.Height <= 0 {
		settings.Height = 512
	}
	if settings.Steps <= 0 {
		settings.Steps = 2
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TogetherImageClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		settings:   settings,
		httpClient: httpClient,
	}
}

func (c *TogetherImageClient) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	config := imageGenerationConfig{
		Model:          c.settings.Model,
		Width:          c.settings.Width,
		Height:         c.settings.Height,
		Steps:          c.settings.Steps,
		N:              1,
		ResponseFormat: "b64_json",
	}
	body, err := json.Marshal(imageGenerationRequest{Prompt: prompt, imageGenerationConfig: config})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}

	var parsed imageGenerationResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return nil, fmt.Errorf("image API returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("image API returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", decodeErr)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image API returned no image data")
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image config: %w", err)
	}

	return &GeneratedImage{
		B64:       parsed.Data[0].B64JSON,
		Model:     config.Model,
		Width:     config.Width,
		Height:    config.Height,
		ConfigRaw: string(configJSON),
	}, nil
}
