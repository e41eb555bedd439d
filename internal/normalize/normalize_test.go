package normalize

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/toolcheck"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ChatModel:          "grok-3-mini-beta",
		ImageGenModel:      "grok-2-image",
		VisionModel:        "grok-2-vision-latest",
		ToolCallingEnabled: true,
		Tools: config.ToolLimits{
			MaxTools:          config.MaxToolsDefault,
			MaxNameLength:     config.MaxNameLengthDefault,
			MaxDescLength:     config.MaxDescLengthDefault,
			MaxParameterDepth: config.MaxParameterDepthDefault,
		},
	}
}

func requireAPIError(t *testing.T, err error, status int, code string) *codec.APIError {
	t.Helper()
	var apiErr *codec.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
	return apiErr
}

const weatherTool = `{"type":"function","function":{"name":"get_weather","description":"Get the weather for a city","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}`

func TestDetectPlainChatDefaultsModel(t *testing.T) {
	p, err := New(testConfig()).Detect([]byte(`{"messages":[{"role":"user","content":"hi"}],"seed":7}`), RouteChat)
	require.NoError(t, err)
	require.Equal(t, KindChat, p.Kind())

	chat := p.(*ChatPayload)
	assert.Equal(t, "grok-3-mini-beta", chat.RequestedModel())
	body := chat.Body()
	assert.JSONEq(t, `"grok-3-mini-beta"`, string(body["model"]))
	assert.JSONEq(t, `7`, string(body["seed"]), "unknown fields pass through")
}

func TestDetectChatBodyDoesNotMutateInbound(t *testing.T) {
	p, err := New(testConfig()).Detect([]byte(`{"messages":[],"tools":[],"tool_choice":"auto"}`), RouteChat)
	require.NoError(t, err)
	chat := p.(*ChatPayload)

	body := chat.Body()
	assert.NotContains(t, body, "tools")
	assert.NotContains(t, body, "tool_choice")
	assert.Contains(t, chat.fields, "tools")
	assert.NotContains(t, chat.fields, "model")
}

func TestDetectChatToolsValidated(t *testing.T) {
	d := New(testConfig())

	p, err := d.Detect([]byte(`{"model":"grok-4","messages":[],"tools":[`+weatherTool+`],"tool_choice":{"type":"function","function":{"name":"get_weather"}}}`), RouteChat)
	require.NoError(t, err)
	chat := p.(*ChatPayload)
	require.Len(t, chat.Tools, 1)
	assert.Contains(t, chat.Body(), "tool_choice")

	_, err = d.Detect([]byte(`{"messages":[],"tools":[`+weatherTool+`],"tool_choice":{"type":"function","function":{"name":"nope"}}}`), RouteChat)
	apiErr := requireAPIError(t, err, http.StatusBadRequest, "invalid_tools")
	var ve *toolcheck.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, toolcheck.RuleToolChoice, ve.Rule)
	assert.Contains(t, apiErr.Message, "nope")
}

func TestDetectChatDangerousToolRejected(t *testing.T) {
	body := `{"messages":[],"tools":[{"type":"function","function":{"name":"exec","description":"runs things"}}]}`
	_, err := New(testConfig()).Detect([]byte(body), RouteChat)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_tools")
}

func TestDetectChatToolsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ToolCallingEnabled = false
	_, err := New(cfg).Detect([]byte(`{"messages":[],"tools":[`+weatherTool+`]}`), RouteChat)
	apiErr := requireAPIError(t, err, http.StatusForbidden, "tool_calling_disabled")
	assert.Contains(t, apiErr.Message, "XAI_TOOL_CALLING_ENABLED")

	_, err = New(cfg).Detect([]byte(`{"messages":[],"tools":[]}`), RouteChat)
	assert.NoError(t, err, "an empty tool list is the same as none")
}

func TestDetectInvalidJSON(t *testing.T) {
	_, err := New(testConfig()).Detect([]byte(`{"messages":`), RouteChat)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_json")

	_, err = New(testConfig()).Detect([]byte(`[1]`), RouteChat)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_json")
}

func TestDetectToleratesNewlinesInStrings(t *testing.T) {
	p, err := New(testConfig()).Detect([]byte("{\"messages\":[{\"role\":\"user\",\"content\":\"line1\nline2\"}]}"), RouteChat)
	require.NoError(t, err)
	assert.Equal(t, KindChat, p.Kind())
}

func TestDetectVisionWinsOverRoute(t *testing.T) {
	body := `{"messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[
			{"type":"text","text":"describe"},
			{"type":"image_url","image_url":{"url":"https://img/a.png","detail":"low"}},
			{"type":"image_url","image_url":{"url":"https://img/b.png"}},
			{"type":"text","text":"ignored"}
		]},
		{"role":"user","content":[{"type":"image_url","image_url":{"url":"https://img/c.png"}}]}
	],"temperature":0.5,"stream":true}`

	for _, route := range []Route{RouteChat, RouteResponses} {
		p, err := New(testConfig()).Detect([]byte(body), route)
		require.NoError(t, err)
		require.Equal(t, KindVision, p.Kind(), route)

		v := p.(*VisionPayload)
		assert.Equal(t, "grok-2-vision-latest", v.Model)
		assert.Equal(t, "https://img/a.png", v.ImageURL)
		assert.Equal(t, "low", v.Detail)
		assert.Equal(t, "describe", v.Prompt)
		assert.Equal(t, 0.5, v.Temperature)
		assert.Equal(t, 1024, v.MaxTokens)
		assert.True(t, v.Streaming())
	}
}

func TestDetectVisionDefaultsAndBase64(t *testing.T) {
	body := `{"model":"grok-2-vision-1212","messages":[{"role":"user","content":[{"type":"image_url","image_url":"aGVsbG8="}]}],"max_tokens":50}`
	p, err := New(testConfig()).Detect([]byte(body), RouteChat)
	require.NoError(t, err)
	v := p.(*VisionPayload)

	assert.Equal(t, "grok-2-vision-1212", v.Model)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", v.ImageURL)
	assert.Equal(t, "high", v.Detail)
	assert.Equal(t, "What's in this image?", v.Prompt)
	assert.Equal(t, 50, v.MaxTokens)
	assert.Equal(t, 0.01, v.Temperature)

	out, err := json.Marshal(v.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model":"grok-2-vision-1212",
		"messages":[{"role":"user","content":[
			{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,aGVsbG8=","detail":"high"}},
			{"type":"text","text":"What's in this image?"}
		]}],
		"max_tokens":50,
		"temperature":0.01
	}`, string(out))
}

func TestImageSourceKeepsTaggedData(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,xyz", imageSource("data:image/png;base64,xyz"))
	assert.Equal(t, "https://a/b.jpg", imageSource(" https://a/b.jpg "))
	assert.Equal(t, "", imageSource(""))
}

func TestDetectResponsesRequiresModelAndInput(t *testing.T) {
	d := New(testConfig())

	_, err := d.Detect([]byte(`{"input":"hi"}`), RouteResponses)
	requireAPIError(t, err, http.StatusBadRequest, "missing_model")

	_, err = d.Detect([]byte(`{"model":"grok-4","messages":[{"role":"user","content":"hi"}]}`), RouteResponses)
	apiErr := requireAPIError(t, err, http.StatusBadRequest, "missing_input")
	assert.Contains(t, apiErr.Message, "use 'input' instead of 'messages'")
}

func TestDetectResponsesDefaultsStore(t *testing.T) {
	d := New(testConfig())

	p, err := d.Detect([]byte(`{"model":"grok-4","input":"hi","tools":[]}`), RouteResponses)
	require.NoError(t, err)
	resp := p.(*ResponsesPayload)
	body := resp.Body()
	assert.JSONEq(t, `true`, string(body["store"]))
	assert.NotContains(t, body, "tools")

	p, err = d.Detect([]byte(`{"model":"grok-4","input":"hi","store":false}`), RouteResponses)
	require.NoError(t, err)
	assert.JSONEq(t, `false`, string(p.(*ResponsesPayload).Body()["store"]))
}

func TestDetectResponsesNativeToolsGate(t *testing.T) {
	body := []byte(`{"model":"grok-4","input":"news?","tools":[{"type":"web_search"}]}`)

	_, err := New(testConfig()).Detect(body, RouteResponses)
	apiErr := requireAPIError(t, err, http.StatusForbidden, "native_tools_disabled")
	assert.Contains(t, apiErr.Message, "XAI_NATIVE_TOOLS_ENABLED")

	cfg := testConfig()
	cfg.NativeToolsEnabled = true
	p, err := New(cfg).Detect(body, RouteResponses)
	require.NoError(t, err)
	assert.True(t, p.(*ResponsesPayload).Native)
}

func TestDetectResponsesValidatesFunctionTools(t *testing.T) {
	cfg := testConfig()
	cfg.NativeToolsEnabled = true
	d := New(cfg)

	ok := `{"model":"grok-4","input":"hi","tools":[{"type":"x_search"},{"type":"function","name":"lookup","description":"Look up a record","parameters":{"type":"object"}}]}`
	_, err := d.Detect([]byte(ok), RouteResponses)
	require.NoError(t, err)

	bad := `{"model":"grok-4","input":"hi","tools":[{"type":"function","name":"lookup","description":""}]}`
	_, err = d.Detect([]byte(bad), RouteResponses)
	var ve *toolcheck.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, toolcheck.RuleDescription, ve.Rule)
}

func TestVisionAnalyze(t *testing.T) {
	d := New(testConfig())

	_, err := d.VisionAnalyze([]byte(`{"prompt":"what"}`))
	apiErr := requireAPIError(t, err, http.StatusBadRequest, "missing_image")
	assert.Equal(t, "Either image URL or base64 encoded image data must be provided", apiErr.Message)

	_, err = d.VisionAnalyze([]byte(`{"image":{}}`))
	requireAPIError(t, err, http.StatusBadRequest, "missing_image")

	p, err := d.VisionAnalyze([]byte(`{"image":{"b64_json":"Zm9v"},"prompt":"count","detail":"low","temperature":0.2}`))
	require.NoError(t, err)
	assert.Equal(t, "grok-2-vision-latest", p.Model)
	assert.Equal(t, "data:image/jpeg;base64,Zm9v", p.ImageURL)
	assert.Equal(t, "count", p.Prompt)
	assert.Equal(t, "low", p.Detail)
	assert.Equal(t, 0.2, p.Temperature)
	assert.False(t, p.Streaming())
}

func TestImageGeneration(t *testing.T) {
	d := New(testConfig())

	_, err := d.ImageGeneration([]byte(`{"n":1}`))
	requireAPIError(t, err, http.StatusBadRequest, "missing_prompt")

	p, err := d.ImageGeneration([]byte(`{"prompt":"a fox","size":"1024x1024","response_format":"url"}`))
	require.NoError(t, err)
	assert.Equal(t, "grok-2-image", p.Request.Model)
	body := p.Body()
	assert.JSONEq(t, `"grok-2-image"`, string(body["model"]))
	assert.JSONEq(t, `"1024x1024"`, string(body["size"]))
	assert.JSONEq(t, `"url"`, string(body["response_format"]))
}
