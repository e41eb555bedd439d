package types

// VisionRequest is the body of POST /vision/analyze.
type VisionRequest struct {
	Model       string       `json:"model,omitempty"`
	Image       *VisionImage `json:"image,omitempty"`
	Prompt      *string      `json:"prompt,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

// VisionImage names the image source: a URL or inline base64 data.
type VisionImage struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// VisionResult is the body returned by POST /vision/analyze.
type VisionResult struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// ImageGenerationRequest is the body of POST /images/generate.
type ImageGenerationRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	N              *int    `json:"n,omitempty"`
	Size           *string `json:"size,omitempty"`
	Quality        *string `json:"quality,omitempty"`
	Style          *string `json:"style,omitempty"`
	ResponseFormat *string `json:"response_format,omitempty"`
}
