// Package elevenlabs synthesizes agent replies over the ElevenLabs
// stream-input websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"
	defaultModel  = "eleven_flash_v2_5"
	// Telephony consumes 8 kHz mu-law, one byte per sample
	outputFormat   = "ulaw_8000"
	bytesPerSecond = 8000
	// Warm connections are discarded once they sit idle this long
	warmTTL = 15 * time.Second
)

type warmConn struct {
	conn     *websocket.Conn
	openedAt time.Time
}

// Synthesizer implements pipeline.Synthesizer and pipeline.Warmer
type Synthesizer struct {
	apiKey string
	wsBase string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	warm map[types.VoiceConfig]warmConn
}

// New creates a synthesizer. wsBase may be empty for the public endpoint.
func New(apiKey, wsBase string, logger zerolog.Logger) *Synthesizer {
	if wsBase == "" {
		wsBase = DefaultWSBase
	}
	return &Synthesizer{
		apiKey: strings.TrimSpace(apiKey),
		wsBase: wsBase,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "elevenlabs").Logger(),
		warm:   make(map[types.VoiceConfig]warmConn),
	}
}

// Warm opens and initializes a connection for the voice so the next
// Synthesize skips the handshake
func (s *Synthesizer) Warm(ctx context.Context, voice types.VoiceConfig) error {
	s.mu.Lock()
	if w, ok := s.warm[voice]; ok && time.Since(w.openedAt) < warmTTL {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.open(ctx, voice)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.warm[voice]; ok {
		_ = old.conn.Close()
	}
	s.warm[voice] = warmConn{conn: conn, openedAt: time.Now()}
	return nil
}

// take returns a warm connection opened with exactly this voice config, if
// one is fresh. Settings are fixed at stream init, so they are part of the key.
func (s *Synthesizer) take(voice types.VoiceConfig) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.warm[voice]
	if !ok {
		return nil
	}
	delete(s.warm, voice)
	if time.Since(w.openedAt) >= warmTTL {
		_ = w.conn.Close()
		return nil
	}
	return w.conn
}

func (s *Synthesizer) open(ctx context.Context, voice types.VoiceConfig) (*websocket.Conn, error) {
	if s.apiKey == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(voice.VoiceID)
	if voiceID == "" {
		return nil, errors.New("voice id is required")
	}
	wsURL, err := buildURL(s.wsBase, voiceID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)
	conn, _, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial elevenlabs: %w", err)
	}

	init := map[string]any{"text": " "}
	if voice.Settings != (types.VoiceSettings{}) {
		settings := map[string]any{
			"stability":        voice.Settings.Stability,
			"similarity_boost": voice.Settings.SimilarityBoost,
		}
		if voice.Settings.Speed > 0 {
			settings["speed"] = voice.Settings.Speed
		}
		init["voice_settings"] = settings
	}
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init stream: %w", err)
	}
	return conn, nil
}

type streamMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize streams text and collects the audio until the final frame
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (pipeline.Synthesis, error) {
	conn := s.take(voice)
	if conn == nil {
		var err error
		if conn, err = s.open(ctx, voice); err != nil {
			return pipeline.Synthesis{}, err
		}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	text = strings.TrimSpace(text)
	if err := conn.WriteJSON(map[string]any{"text": text + " ", "flush": true}); err != nil {
		return pipeline.Synthesis{}, fmt.Errorf("send text: %w", err)
	}
	// Empty text closes the input stream
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return pipeline.Synthesis{}, fmt.Errorf("close input: %w", err)
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return pipeline.Synthesis{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				break
			}
			return pipeline.Synthesis{}, fmt.Errorf("read stream: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("skipping undecodable frame")
			continue
		}
		if msg.Error != "" {
			return pipeline.Synthesis{}, fmt.Errorf("elevenlabs %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return pipeline.Synthesis{}, fmt.Errorf("decode audio: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if msg.IsFinal {
			break
		}
	}

	return pipeline.Synthesis{
		Audio:      audio,
		DurationMs: int64(len(audio)) * 1000 / bytesPerSecond,
	}, nil
}

// Close drops every warm connection
func (s *Synthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.warm {
		_ = w.conn.Close()
		delete(s.warm, id)
	}
}

func buildURL(base, voiceID string) (string, error) {
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", defaultModel)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", outputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
