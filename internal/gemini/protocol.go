// Package gemini speaks the Live API bidirectional streaming protocol over a
// websocket: one Leg per physical connection.
package gemini

// DefaultEndpoint is the public BidiGenerateContent websocket endpoint
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Schema is the subset of OpenAPI schema used for function parameters
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// FunctionDeclaration describes a tool the remote agent may call
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// FunctionCall is a tool invocation requested by the remote agent
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// StringArg returns a string argument, or "" if absent or not a string
func (c FunctionCall) StringArg(name string) string {
	s, _ := c.Args[name].(string)
	return s
}

// FunctionResponse answers a FunctionCall
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Blob is inline binary media, base64 encoded
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one piece of content
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a role-tagged list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// client -> server

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                    string            `json:"model"`
	GenerationConfig         *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []tool            `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type realtimeInput struct {
	Audio *Blob  `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

type toolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// Setup is everything sent when a leg opens
type Setup struct {
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []FunctionDeclaration
	// Transcribe asks the service for transcripts of both directions
	Transcribe bool
}

func (s Setup) message() clientMessage {
	m := &setupMessage{
		Model: "models/" + trimModelPrefix(s.Model),
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if s.Voice != "" {
		m.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.Voice}},
		}
	}
	if s.SystemInstruction != "" {
		m.SystemInstruction = &Content{Parts: []Part{{Text: s.SystemInstruction}}}
	}
	if len(s.Tools) > 0 {
		m.Tools = []tool{{FunctionDeclarations: s.Tools}}
	}
	if s.Transcribe {
		m.InputAudioTranscription = &struct{}{}
		m.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: m}
}

func trimModelPrefix(model string) string {
	const prefix = "models/"
	if len(model) > len(prefix) && model[:len(prefix)] == prefix {
		return model[len(prefix):]
	}
	return model
}

// server -> client

// ServerMessage is one decoded frame from the service. Exactly which fields
// are set depends on the frame; unknown frames decode with every field nil.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent carries model output for the current turn
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// AudioParts returns the base64 payloads of every inline audio part in order
func (c *ServerContent) AudioParts() []string {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []string
	for _, p := range c.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, p.InlineData.Data)
		}
	}
	return out
}

// Transcription is an incremental speech-to-text fragment
type Transcription struct {
	Text string `json:"text"`
}

// ToolCall carries one or more function calls
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// GoAway warns that the service will close the connection soon
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}
