package normalize

import (
	"encoding/json"
	"strings"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/types"
)

const (
	defaultVisionDetail      = "high"
	defaultVisionPrompt      = "What's in this image?"
	defaultVisionMaxTokens   = 1024
	defaultVisionTemperature = 0.01
)

// VisionPayload is a single-image analysis request, whether it arrived as a
// multi-part chat message or on the analyze endpoint.
type VisionPayload struct {
	Model string
	// Stream is what the caller asked for; vision answers are never streamed.
	Stream      bool
	ImageURL    string
	Detail      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

func (p *VisionPayload) Kind() Kind             { return KindVision }
func (p *VisionPayload) RequestedModel() string { return p.Model }
func (p *VisionPayload) Streaming() bool        { return p.Stream }

type visionMessage struct {
	Role    string               `json:"role"`
	Content []visionContentEntry `json:"content"`
}

type visionContentEntry struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *types.ImageURL `json:"image_url,omitempty"`
}

// Body builds the upstream chat completion request carrying the image and
// prompt as one user message.
func (p *VisionPayload) Body() map[string]any {
	var content []visionContentEntry
	if p.ImageURL != "" {
		content = append(content, visionContentEntry{
			Type:     "image_url",
			ImageURL: &types.ImageURL{URL: p.ImageURL, Detail: p.Detail},
		})
	}
	content = append(content, visionContentEntry{Type: "text", Text: p.Prompt})
	return map[string]any{
		"model":       p.Model,
		"messages":    []visionMessage{{Role: "user", Content: content}},
		"max_tokens":  p.MaxTokens,
		"temperature": p.Temperature,
	}
}

// vision extracts the first image part and the first text part of the first
// multi-part message. Further images or text parts are ignored.
func (d *Detector) vision(fields map[string]json.RawMessage, messages []types.ChatMessage) *VisionPayload {
	p := &VisionPayload{
		Model:       stringField(fields, "model"),
		Stream:      boolField(fields, "stream"),
		Detail:      defaultVisionDetail,
		Prompt:      defaultVisionPrompt,
		MaxTokens:   defaultVisionMaxTokens,
		Temperature: defaultVisionTemperature,
	}
	if p.Model == "" {
		p.Model = d.Config.VisionModel
	}

	var imageSeen, textSeen bool
	for _, m := range messages {
		if !m.IsMultipart() {
			continue
		}
		for _, part := range m.Parts() {
			switch part.Type {
			case "image_url":
				if imageSeen || part.ImageURL == nil {
					continue
				}
				imageSeen = true
				p.ImageURL = imageSource(part.ImageURL.URL)
				if part.ImageURL.Detail != "" {
					p.Detail = part.ImageURL.Detail
				}
			case "text":
				if textSeen || part.Text == nil {
					continue
				}
				textSeen = true
				p.Prompt = *part.Text
			}
		}
		break
	}
	applySampling(fields, p)
	return p
}

func applySampling(fields map[string]json.RawMessage, p *VisionPayload) {
	if raw, ok := present(fields, "max_tokens"); ok {
		var n int
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			p.MaxTokens = n
		}
	}
	if raw, ok := present(fields, "temperature"); ok {
		var t float64
		if err := json.Unmarshal(raw, &t); err == nil {
			p.Temperature = t
		}
	}
}

// imageSource returns ref unchanged when it is a URL or data URL; bare
// base64 data is tagged as JPEG.
func imageSource(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.Contains(ref, "://") {
		return ref
	}
	return "data:image/jpeg;base64," + ref
}

// VisionAnalyze validates a body posted to the analyze endpoint.
func (d *Detector) VisionAnalyze(body []byte) (*VisionPayload, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	var req types.VisionRequest
	if err := json.Unmarshal(marshalRaw(fields), &req); err != nil {
		return nil, codec.BadRequest("invalid_request", "Invalid vision request: %s", err.Error())
	}
	if req.Image == nil || (strings.TrimSpace(req.Image.URL) == "" && strings.TrimSpace(req.Image.B64JSON) == "") {
		return nil, codec.BadRequest("missing_image", "Either image URL or base64 encoded image data must be provided")
	}

	p := &VisionPayload{
		Model:       strings.TrimSpace(req.Model),
		Detail:      defaultVisionDetail,
		Prompt:      defaultVisionPrompt,
		MaxTokens:   defaultVisionMaxTokens,
		Temperature: defaultVisionTemperature,
	}
	if p.Model == "" {
		p.Model = d.Config.VisionModel
	}
	if url := strings.TrimSpace(req.Image.URL); url != "" {
		p.ImageURL = url
	} else {
		p.ImageURL = imageSource(req.Image.B64JSON)
	}
	if req.Detail != "" {
		p.Detail = req.Detail
	}
	if req.Prompt != nil {
		p.Prompt = *req.Prompt
	}
	applySampling(fields, p)
	return p, nil
}
