package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"
)

const (
	sineSampleRate = 16000
	sineFrequency  = 440.0
	sineAmplitude  = 0.3
	charsPerSecond = 5
	minDuration    = 2 * time.Second
	maxDuration    = 10 * time.Second
)

// Sine is an engine that returns a 440 Hz tone sized to the text. It needs no
// model and is used for development and tests.
type Sine struct{}

func (Sine) Name() string { return "sine" }

func (Sine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := SineDuration(req.Text)
	return &Audio{Data: sineWAV(d), ContentType: "audio/wav"}, nil
}

// SineDuration is the tone length for text: one second per five characters,
// clamped to [2s, 10s].
func SineDuration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * time.Second / charsPerSecond
	return min(max(d, minDuration), maxDuration)
}

// sineWAV renders a mono 16-bit PCM WAV file.
func sineWAV(d time.Duration) []byte {
	samples := int(d.Seconds() * sineSampleRate)
	dataLen := uint32(samples * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, sineSampleRate, sineSampleRate * 2, 2, 16})

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)

	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(math.MaxInt16 * sineAmplitude * math.Sin(2*math.Pi*sineFrequency*float64(i)/sineSampleRate))
	}
	_ = binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}
