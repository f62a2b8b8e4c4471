package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts chunks to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a chunk to the target format. If the source format already
// matches the target, the chunk is returned unchanged (zero allocation).
// Multi-channel input is down-mixed before resampling so only one channel
// is interpolated. Only mono and stereo targets are supported.
func (c *FormatConverter) Convert(chunk Chunk) (Chunk, error) {
	if chunk.Format == c.Target {
		return chunk, nil
	}
	if !chunk.Format.Valid() || len(chunk.Data)%chunk.Format.FrameSize() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data",
				"bytes", len(chunk.Data),
				"format", chunk.Format.String(),
			)
		})
		return Chunk{}, fmt.Errorf("audio: convert: %d bytes of %s is not frame aligned", len(chunk.Data), chunk.Format)
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", chunk.Format.String(),
			"to", c.Target.String(),
		)
	})

	pcm := chunk.Data
	channels := chunk.Format.Channels

	if channels > 1 {
		pcm = DownmixMono(pcm, channels)
		channels = 1
	}
	pcm = ResampleMono16(pcm, chunk.Format.SampleRate, c.Target.SampleRate)

	switch c.Target.Channels {
	case 1:
	case 2:
		pcm = MonoToStereo(pcm)
	default:
		return Chunk{}, fmt.Errorf("audio: convert: unsupported target %s", c.Target)
	}

	return Chunk{
		Data:      pcm,
		Format:    c.Target,
		Timestamp: chunk.Timestamp,
	}, nil
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// DownmixMono averages every interleaved frame of the given channel count
// into one int16 sample. Trailing partial frames are discarded.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Float32 scales little-endian int16 samples into [-1, 1). A trailing odd
// byte is dropped.
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(pcm[2*i])|int16(pcm[2*i+1])<<8) / 32768
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ConvertStream wraps an input channel with a conversion goroutine. It closes
// the returned channel when in closes. Uses cap(in) for the output channel
// buffer. Chunks that fail conversion are logged and skipped.
func ConvertStream(in <-chan Chunk, target Format) <-chan Chunk {
	out := make(chan Chunk, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for chunk := range in {
			converted, err := conv.Convert(chunk)
			if err != nil || len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}
