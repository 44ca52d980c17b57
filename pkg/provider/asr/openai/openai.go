// Package openai provides an asr.Transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	"github.com/MrWong99/voicegate/pkg/types"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM segments
// the capture pipeline produces.
const bitsPerSample = 16

// Provider implements asr.Transcriber using the OpenAI transcription API.
type Provider struct {
	client oai.Client
	model  string
}

var _ asr.Transcriber = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point
// the provider at an OpenAI-compatible transcription server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI-backed Provider bound to model (e.g. "whisper-1").
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements asr.Transcriber. The segment is wrapped in a WAV
// container because the API refuses raw PCM uploads.
func (p *Provider) Transcribe(ctx context.Context, segment audio.Segment) (types.Transcript, error) {
	wav := encodeWAV(segment.Samples(), segment.SampleRate)

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Transcript{}, fmt.Errorf("%w: %w", asr.ErrTimeout, err)
		}
		return types.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	if resp.Text == "" {
		return types.Transcript{}, asr.ErrLowConfidence
	}

	// The transcription endpoint does not report a confidence score, so a
	// non-empty transcript is reported at full confidence.
	return types.Transcript{Text: resp.Text, Confidence: 1}, nil
}

// encodeWAV wraps signed 16-bit little-endian mono PCM samples in a
// standard RIFF/WAV container.
func encodeWAV(samples []int16, sampleRate int) []byte {
	byteRate := sampleRate * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}

	return buf
}
