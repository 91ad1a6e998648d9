// ABOUTME: Agent definition registered with the cloud agent API
// ABOUTME: Maps the gateway's agent config onto the vendor's LLM, TTS and ASR blocks

package cloudagent

import (
	"github.com/2389/solace/internal/config"
)

// AgentSpec is the agent persona and voice pipeline.
type AgentSpec struct {
	Name          string
	LLM           config.LLMConfig
	TTS           config.TTSConfig
	ASR           config.ASRConfig
	HistoryWindow int
	InterruptMode int
}

// SpecFromConfig builds an AgentSpec from gateway configuration.
func SpecFromConfig(cfg config.AgentConfig) AgentSpec {
	return AgentSpec{
		Name:          cfg.Name,
		LLM:           cfg.LLM,
		TTS:           cfg.TTS,
		ASR:           cfg.ASR,
		HistoryWindow: cfg.HistoryWindow,
		InterruptMode: cfg.InterruptMode,
	}
}

type registerBody struct {
	AgentID string  `json:"AgentId"`
	Name    string  `json:"Name"`
	LLM     llmBody `json:"LLM"`
	TTS     ttsBody `json:"TTS"`
	ASR     asrBody `json:"ASR"`
}

type llmBody struct {
	URL          string         `json:"Url"`
	APIKey       string         `json:"ApiKey"`
	Model        string         `json:"Model"`
	SystemPrompt string         `json:"SystemPrompt"`
	Temperature  float64        `json:"Temperature"`
	TopP         float64        `json:"TopP"`
	Params       map[string]any `json:"Params,omitempty"`
}

type ttsBody struct {
	Vendor     string         `json:"Vendor"`
	Params     map[string]any `json:"Params"`
	FilterText []filterText   `json:"FilterText"`
}

// filterText strips bracketed stage directions before synthesis.
type filterText struct {
	BeginCharacters string `json:"BeginCharacters"`
	EndCharacters   string `json:"EndCharacters"`
}

type asrBody struct {
	HotWord                string `json:"HotWord,omitempty"`
	VADSilenceSegmentation int64  `json:"VADSilenceSegmentation"`
	PauseInterval          int64  `json:"PauseInterval"`
}

func (a AgentSpec) registration(agentID string) registerBody {
	llm := llmBody{
		URL:          a.LLM.URL,
		APIKey:       a.LLM.APIKey,
		Model:        a.LLM.Model,
		SystemPrompt: a.LLM.SystemPrompt,
		Temperature:  a.LLM.Temperature,
		TopP:         a.LLM.TopP,
	}
	if a.LLM.MaxTokens > 0 {
		llm.Params = map[string]any{"max_tokens": a.LLM.MaxTokens}
	}

	return registerBody{
		AgentID: agentID,
		Name:    a.Name,
		LLM:     llm,
		TTS: ttsBody{
			Vendor: a.TTS.Vendor,
			Params: map[string]any{
				"app": map[string]any{"api_key": a.TTS.APIKey},
				"payload": map[string]any{
					"model": a.TTS.Model,
					"parameters": map[string]any{
						"voice":  a.TTS.Voice,
						"speed":  a.TTS.Speed,
						"volume": a.TTS.Volume,
					},
				},
			},
			FilterText: []filterText{
				{BeginCharacters: "(", EndCharacters: ")"},
				{BeginCharacters: "[", EndCharacters: "]"},
			},
		},
		ASR: asrBody{
			HotWord:                a.ASR.HotWord,
			VADSilenceSegmentation: a.ASR.VADSilenceSegmentation.Milliseconds(),
			PauseInterval:          a.ASR.PauseInterval.Milliseconds(),
		},
	}
}
