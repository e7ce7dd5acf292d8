package telephony

import (
	"voice-recorder/internal/config"
)

// NCCO is a Vonage call-control object: an ordered list of actions the
// provider executes for the call. It serializes to a JSON array.
type NCCO []any

// TalkAction speaks text to the caller.
type TalkAction struct {
	Action   string `json:"action"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Style    int    `json:"style"`
	BargeIn  bool   `json:"bargeIn"`
}

// RecordAction records the caller and posts the result to EventURL.
type RecordAction struct {
	Action       string   `json:"action"`
	EventURL     []string `json:"eventUrl"`
	EndOnSilence int      `json:"endOnSilence"`
	EndOnKey     string   `json:"endOnKey"`
	BeepStart    bool     `json:"beepStart"`
	TimeOut      int      `json:"timeOut"`
	Format       string   `json:"format"`
}

const (
	actionTalk   = "talk"
	actionRecord = "record"
)

// Builder produces the voicemail NCCO from validated configuration.
type Builder struct {
	voice        config.VoiceConfig
	recording    config.RecordingConfig
	recordingURL string
}

func NewBuilder(cfg config.Config) Builder {
	return Builder{
		voice:        cfg.Voice,
		recording:    cfg.Recording,
		recordingURL: cfg.Webhooks.RecordingURL,
	}
}

// BuildVoicemailNCCO returns [talk, record]. It has no side effects and the
// output depends only on configuration; Vonage correlates the recording
// callback itself, so callUUID is not embedded.
func (b Builder) BuildVoicemailNCCO(callUUID string) NCCO {
	text := b.voice.GreetingMessage
	if text == "" {
		text = config.DefaultGreeting
	}
	lang := b.voice.GreetingLanguage
	if lang == "" {
		lang = config.DefaultGreetingLanguage
	}

	return NCCO{
		TalkAction{
			Action:   actionTalk,
			Text:     text,
			Language: lang,
			Style:    b.voice.GreetingStyle,
			BargeIn:  false,
		},
		RecordAction{
			Action:       actionRecord,
			EventURL:     []string{b.recordingURL},
			EndOnSilence: b.recording.EndOnSilence,
			EndOnKey:     "#",
			BeepStart:    true,
			TimeOut:      b.recording.MaxDuration,
			Format:       b.recording.Format,
		},
	}
}
