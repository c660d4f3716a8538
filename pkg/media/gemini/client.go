package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/user/gopherpaint/pkg/media"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

const apiVersion = "v1beta"

// ErrNoAPIKey is returned by New when the configuration carries no key.
var ErrNoAPIKey = errors.New("gemini: api key is required")

// Client implements the media.Provider interface for the Gemini API.
// Image generation streams through the genai SDK; long-running video jobs
// are driven over the REST predictLongRunning/operations endpoints.
type Client struct {
	config  *media.Config
	genai   *genai.Client
	rest    *resty.Client
	limiter *rate.Limiter
}

var _ media.Provider = (*Client)(nil)

// New creates a new Gemini client with the given configuration.
func New(ctx context.Context, config *media.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("x-goog-api-key", config.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(5 * time.Minute)

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}

	return &Client{
		config:  config,
		genai:   gc,
		rest:    rest,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// StreamImage sends the prompt and reference images with an IMAGE response
// modality and forwards each streamed chunk.
func (c *Client) StreamImage(ctx context.Context, req *media.ImageRequest) (<-chan media.ImageChunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, ref := range req.References {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	}
	if c.config.ImageSize != "" {
		// This SDK version has no typed image config; the field is merged
		// into the request body instead.
		config.HTTPOptions = &genai.HTTPOptions{
			ExtraBody: map[string]any{
				"generationConfig": map[string]any{
					"imageConfig": map[string]any{"imageSize": c.config.ImageSize},
				},
			},
		}
	}

	ch := make(chan media.ImageChunk)
	go func() {
		defer close(ch)
		for resp, err := range c.genai.Models.GenerateContentStream(ctx, c.config.ImageModel, contents, config) {
			var chunk media.ImageChunk
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				chunk.Err = err
			} else {
				chunk = decodeChunk(resp)
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func decodeChunk(resp *genai.GenerateContentResponse) media.ImageChunk {
	var chunk media.ImageChunk
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return chunk
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			chunk.Parts = append(chunk.Parts, media.Image{
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
			})
			continue
		}
		chunk.Text += part.Text
	}
	return chunk
}

// predictRequest is the predictLongRunning request body.
type predictRequest struct {
	Instances  []videoInstance  `json:"instances"`
	Parameters *videoParameters `json:"parameters,omitempty"`
}

type videoInstance struct {
	Prompt          string           `json:"prompt"`
	Image           *inlineImage     `json:"image,omitempty"`
	ReferenceImages []referenceImage `json:"referenceImages,omitempty"`
}

type inlineImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

// referenceImage is a labelled reference for multi-reference video.
type referenceImage struct {
	Image         inlineImage `json:"image"`
	ReferenceType string      `json:"referenceType"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// operation is the long-running operation resource.
type operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *operationError    `json:"error,omitempty"`
	Response *operationResponse `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationResponse struct {
	GenerateVideoResponse *struct {
		GeneratedSamples []struct {
			Video videoPayload `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse,omitempty"`
}

type videoPayload struct {
	URI                string `json:"uri"`
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

func encodeImage(img media.Image) inlineImage {
	return inlineImage{
		BytesBase64Encoded: base64.StdEncoding.EncodeToString(img.Data),
		MimeType:           img.MIMEType,
	}
}

// SubmitVideo starts a video generation and returns its operation handle.
func (c *Client) SubmitVideo(ctx context.Context, req *media.VideoRequest) (*media.VideoOperation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	instance := videoInstance{Prompt: req.Prompt}
	if req.StartFrame != nil {
		img := encodeImage(*req.StartFrame)
		instance.Image = &img
	}
	for _, ref := range req.References {
		instance.ReferenceImages = append(instance.ReferenceImages, referenceImage{
			Image:         encodeImage(ref),
			ReferenceType: "asset",
		})
	}

	body := predictRequest{Instances: []videoInstance{instance}}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = c.config.AspectRatio
	}
	if aspect != "" {
		body.Parameters = &videoParameters{AspectRatio: aspect}
	}

	path := fmt.Sprintf("/%s/models/%s:predictLongRunning", apiVersion, url.PathEscape(c.config.VideoModel))
	resp, err := c.rest.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	var op operation
	if err := json.Unmarshal(resp.Body(), &op); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if op.Name == "" {
		return nil, fmt.Errorf("no operation name in response")
	}
	return toOperation(&op)
}

// PollVideo fetches the current state of op.
func (c *Client) PollVideo(ctx context.Context, op *media.VideoOperation) (*media.VideoOperation, error) {
	resp, err := c.rest.R().SetContext(ctx).Get(fmt.Sprintf("/%s/%s", apiVersion, op.Name))
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	var current operation
	if err := json.Unmarshal(resp.Body(), &current); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if current.Name == "" {
		current.Name = op.Name
	}
	return toOperation(&current)
}

// toOperation decodes the wire operation once, at the API boundary.
func toOperation(op *operation) (*media.VideoOperation, error) {
	out := &media.VideoOperation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		out.Done = true
		out.Error = fmt.Sprintf("%s (code %d)", op.Error.Message, op.Error.Code)
		return out, nil
	}
	if !op.Done || op.Response == nil || op.Response.GenerateVideoResponse == nil {
		return out, nil
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 {
		return out, nil
	}

	video := samples[0].Video
	result := &media.VideoResult{URI: video.URI, MIMEType: video.MimeType}
	if video.BytesBase64Encoded != "" {
		data, err := base64.StdEncoding.DecodeString(video.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding video bytes: %w", err)
		}
		result.Data = data
	}
	if result.MIMEType == "" {
		result.MIMEType = "video/mp4"
	}
	out.Result = result
	return out, nil
}

// FetchVideo writes the result to w, downloading it when only a URI is known.
func (c *Client) FetchVideo(ctx context.Context, result *media.VideoResult, w io.Writer) error {
	if len(result.Data) > 0 {
		_, err := w.Write(result.Data)
		return err
	}
	if result.URI == "" {
		return fmt.Errorf("result has neither data nor uri")
	}

	resp, err := c.rest.R().SetContext(ctx).SetDoNotParseResponse(true).Get(result.URI)
	if err != nil {
		return fmt.Errorf("downloading video: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return fmt.Errorf("download error (status %d): %s", resp.StatusCode(), string(msg))
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("writing video: %w", err)
	}
	return nil
}
