package normalize

import (
	"encoding/json"
	"log/slog"
	"maps"
	"strings"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/types"
)

// ImagePayload is an image generation request.
type ImagePayload struct {
	Request types.ImageGenerationRequest

	fields map[string]json.RawMessage
}

// Body returns the outbound request with the model defaulted.
func (p *ImagePayload) Body() map[string]json.RawMessage {
	out := maps.Clone(p.fields)
	out["model"] = marshalRaw(p.Request.Model)
	return out
}

// ImageGeneration validates an image generation body. size, quality and
// style are forwarded but the provider may ignore them, so their use is
// logged.
func (d *Detector) ImageGeneration(body []byte) (*ImagePayload, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	p := &ImagePayload{fields: fields}
	if err := json.Unmarshal(marshalRaw(fields), &p.Request); err != nil {
		return nil, codec.BadRequest("invalid_request", "Invalid image generation request: %s", err.Error())
	}
	if strings.TrimSpace(p.Request.Prompt) == "" {
		return nil, codec.BadRequest("missing_prompt", "Prompt field is required for image generation")
	}
	p.Request.Model = strings.TrimSpace(p.Request.Model)
	if p.Request.Model == "" {
		p.Request.Model = d.Config.ImageGenModel
	}

	for name, value := range map[string]*string{
		"size":    p.Request.Size,
		"quality": p.Request.Quality,
		"style":   p.Request.Style,
	} {
		if value != nil {
			slog.Warn("image.unsupported_field", "field", name, "value", *value, "model", p.Request.Model)
		}
	}
	return p, nil
}
