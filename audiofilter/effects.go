package audiofilter

import "math"

const (
	sampleMax = math.MaxInt32
	sampleMin = math.MinInt32
)

// applyGain multiplies every sample by a linear scaler, clamping to the
// S32 range rather than wrapping on overflow.
func applyGain(samples []int32, gain float64) {
	if gain == 1.0 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		samples[i] = clampS32(v)
	}
}

// applyDebugEffects applies the bitmask of debug effects to one
// channel's samples, in fixed order: mute short-circuits everything
// else since a muted channel has nothing left to impair.
func (f *Filter) applyDebugEffects(samples []int32, channel int, effect DebugEffect) {
	if effect&EffectMute != 0 {
		for i := range samples {
			samples[i] = 0
		}
		return
	}
	if effect&EffectStatic != 0 {
		addStaticNoise(samples, f.noise[channel])
	}
	if effect&EffectBuzz != 0 {
		addBuzzTone(samples)
	}
	if effect&EffectAttenuate != 0 {
		applyGain(samples, attenuateLinear)
	}
	if effect&EffectClip != 0 {
		clipSamples(samples, clipThreshold)
	}
}

// attenuateLinear is the fixed -20dB scaler the "attenuate" debug effect
// applies, independent of any configured gain.
var attenuateLinear = math.Pow(10, -20.0/20.0)

// clipThreshold hard-limits samples to roughly -6dBFS, a level chosen to
// make the "clip" debug effect audible without silencing the signal.
const clipThreshold = sampleMax / 2

// staticNoiseAmplitude bounds the static debug effect's injected noise
// to a level that is clearly audible without masking the underlying
// signal, matching its purpose as a monitoring aid rather than a
// corruption test.
const staticNoiseAmplitude = sampleMax / 16

func addStaticNoise(samples []int32, src noiseSource) {
	for i, s := range samples {
		n := int32(src.Int63()%int64(2*staticNoiseAmplitude)) - staticNoiseAmplitude
		samples[i] = clampS32(float64(s) + float64(n))
	}
}

// buzzFrequencyHz is the fixed tone frequency the "buzz" debug effect
// mixes in, chosen in the broadcast "1kHz reference tone" range.
const buzzFrequencyHz = 1000

func addBuzzTone(samples []int32) {
	amplitude := float64(sampleMax / 8)
	for i, s := range samples {
		phase := 2 * math.Pi * buzzFrequencyHz * float64(i) / 48000
		tone := amplitude * math.Sin(phase)
		samples[i] = clampS32(float64(s) + tone)
	}
}

func clipSamples(samples []int32, threshold int32) {
	for i, s := range samples {
		if s > threshold {
			samples[i] = threshold
		} else if s < -threshold {
			samples[i] = -threshold
		}
	}
}

func clampS32(v float64) int32 {
	if v > sampleMax {
		return sampleMax
	}
	if v < sampleMin {
		return sampleMin
	}
	return int32(v)
}

// noiseSource is the subset of *rand.Rand the static effect needs,
// narrowed so tests can substitute a fixed sequence.
type noiseSource interface {
	Int63() int64
}
