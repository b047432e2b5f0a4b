// Package resample implements the two sample-rate-domain conversions the
// audio pipeline needs when the peer's negotiated format does not match
// the local playback device: linear-interpolation resampling and simple
// channel up/down-mixing. No library in the retrieved corpus performs
// generic PCM resampling (the Opus codec itself only guarantees fixed
// rates), so this is necessarily a small stdlib-only implementation —
// documented in DESIGN.md.
package resample

// Linear resamples interleaved PCM from srcRate to dstRate, preserving
// channel count. It is a no-op (returns a copy of in) when the rates match.
func Linear(in []float32, srcRate, dstRate, channels int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || len(in) == 0 {
		return append([]float32(nil), in...)
	}
	if srcRate == dstRate {
		return append([]float32(nil), in...)
	}

	srcFrames := len(in) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames <= 0 {
		return nil
	}
	out := make([]float32, dstFrames*channels)

	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		frac := float32(srcPos - float64(i0))
		i1 := i0 + 1
		if i1 >= srcFrames {
			i1 = srcFrames - 1
		}
		if i0 >= srcFrames {
			i0 = srcFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := in[i0*channels+c]
			b := in[i1*channels+c]
			out[i*channels+c] = a + (b-a)*frac
		}
	}
	return out
}

// Rechannel converts interleaved PCM between channel counts. Mono-to-stereo
// duplicates the single channel; stereo-to-mono averages L and R. Any other
// combination writes the average of all source channels to every
// destination channel.
func Rechannel(in []float32, srcChannels, dstChannels int) []float32 {
	if srcChannels <= 0 || dstChannels <= 0 || srcChannels == dstChannels {
		return append([]float32(nil), in...)
	}
	frames := len(in) / srcChannels
	out := make([]float32, frames*dstChannels)

	if srcChannels == 1 && dstChannels == 2 {
		for i := 0; i < frames; i++ {
			out[i*2] = in[i]
			out[i*2+1] = in[i]
		}
		return out
	}
	if srcChannels == 2 && dstChannels == 1 {
		for i := 0; i < frames; i++ {
			out[i] = (in[i*2] + in[i*2+1]) / 2
		}
		return out
	}

	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < srcChannels; c++ {
			sum += in[i*srcChannels+c]
		}
		avg := sum / float32(srcChannels)
		for c := 0; c < dstChannels; c++ {
			out[i*dstChannels+c] = avg
		}
	}
	return out
}
