package codec

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-xaigate/internal/types"
)

// Family identifies which outward contract a document must satisfy.
type Family int

const (
	FamilyChat Family = iota
	FamilyChatChunk
	FamilyResponse
	FamilyResponseChunk
	FamilyImage
)

type familySpec struct {
	idPrefix  string
	object    string
	zeroUsage bool
}

var families = map[Family]familySpec{
	FamilyChat:          {idPrefix: "chatcmpl-", object: "chat.completion", zeroUsage: true},
	FamilyChatChunk:     {idPrefix: "chatcmpl-", object: "chat.completion.chunk"},
	FamilyResponse:      {idPrefix: "resp-", object: "response"},
	FamilyResponseChunk: {idPrefix: "resp-", object: "response.chunk"},
	FamilyImage:         {},
}

const zeroUsageJSON = `{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}`

// ErrNotObject is returned when an upstream document is not a JSON object.
var ErrNotObject = errors.New("upstream document is not a JSON object")

// Envelope carries the request context used to fill missing fields. ID and
// Created, when set, pin the values used for every fragment of one stream.
type Envelope struct {
	Family  Family
	Model   string
	ID      string
	Created int64
}

// NewEnvelope returns an envelope with a fresh ID and timestamp, so every
// fragment hydrated through it agrees on both.
func NewEnvelope(family Family, model string) Envelope {
	return Envelope{
		Family:  family,
		Model:   model,
		ID:      NewID(families[family].idPrefix),
		Created: time.Now().Unix(),
	}
}

// NewID returns prefix followed by a random suffix.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// Hydrate fills id, created, model and object when the upstream left them
// out. Present fields are never touched. The returned slice is a new
// document; doc is not modified.
func Hydrate(doc []byte, env Envelope) ([]byte, error) {
	trimmed := bytes.TrimSpace(doc)
	if !gjson.ValidBytes(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	out := append([]byte(nil), trimmed...)
	fam := families[env.Family]

	var err error
	set := func(path string, value any) {
		if err != nil || gjson.GetBytes(out, path).Exists() {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}
	setRaw := func(path, raw string) {
		if err != nil || gjson.GetBytes(out, path).Exists() {
			return
		}
		out, err = sjson.SetRawBytes(out, path, []byte(raw))
	}

	if fam.idPrefix != "" {
		id := env.ID
		if id == "" {
			id = NewID(fam.idPrefix)
		}
		set("id", id)
	}
	created := env.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	set("created", created)
	if env.Model != "" {
		set("model", env.Model)
	}
	if fam.object != "" {
		set("object", fam.object)
	}
	if fam.zeroUsage {
		if gjson.GetBytes(out, "usage").Type == gjson.Null && err == nil {
			out, err = sjson.DeleteBytes(out, "usage")
		}
		setRaw("usage", zeroUsageJSON)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChatFromVision repackages an upstream chat-shaped vision answer as a
// single-choice chat completion with finish_reason "stop" and a non-null
// usage record.
func ChatFromVision(doc []byte, model string) (*types.ChatCompletionResponse, error) {
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, ErrNotObject
	}
	root := gjson.ParseBytes(doc)

	id := root.Get("id").String()
	if id == "" {
		id = NewID("chatcmpl-")
	}
	created := root.Get("created").Int()
	if created == 0 {
		created = time.Now().Unix()
	}
	if m := root.Get("model").String(); m != "" {
		model = m
	}

	return &types.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []types.ChatChoice{{
			Index: 0,
			Message: types.ChatResponseMsg{
				Role:    "assistant",
				Content: analysisText(root),
			},
			FinishReason: types.StringPtr("stop"),
		}},
		Usage: usageOrZero(root),
	}, nil
}

// VisionResult builds the /vision/analyze answer from an upstream chat
// completion.
func VisionResult(doc []byte, model string) (*types.VisionResult, error) {
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, ErrNotObject
	}
	root := gjson.ParseBytes(doc)
	created := root.Get("created").Int()
	if created == 0 {
		created = time.Now().Unix()
	}
	if m := root.Get("model").String(); m != "" {
		model = m
	}
	return &types.VisionResult{
		Model:   model,
		Created: created,
		Content: analysisText(root),
		Usage:   *usageOrZero(root),
	}, nil
}

func analysisText(root gjson.Result) string {
	if c := root.Get("choices.0.message.content"); c.Exists() {
		if c.IsArray() {
			var sb strings.Builder
			for _, part := range c.Array() {
				sb.WriteString(part.Get("text").String())
			}
			return sb.String()
		}
		return c.String()
	}
	return root.Get("content").String()
}

func usageOrZero(root gjson.Result) *types.Usage {
	u := root.Get("usage")
	if !u.IsObject() {
		return &types.Usage{}
	}
	m, _ := u.Value().(map[string]any)
	if usage := types.UsageFromMap(m); usage != nil {
		return usage
	}
	return &types.Usage{}
}
