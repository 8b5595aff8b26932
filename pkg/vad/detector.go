package vad

import (
	"math"
)

// Config controls speech/silence classification.
type Config struct {
	SilenceThreshold float64 // normalized energy below which a chunk counts as silence
	SilenceDuration  float64 // seconds of silence that end a turn
	ChunkDuration    float64 // seconds of audio per chunk
	SampleRate       int
	EnergyWindow     int // chunks averaged for smoothing
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.02
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = 1.5
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 0.1
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.EnergyWindow <= 0 {
		c.EnergyWindow = 5
	}
	return c
}

// Activity is the classification of one audio chunk in the context of the
// chunks that preceded it.
type Activity struct {
	IsSpeaking      bool
	Energy          float64 // raw RMS energy of this chunk
	AvgEnergy       float64 // rolling average over the smoothing window
	SilenceDetected bool
	SilenceChunks   int
	ShouldEndTurn   bool
	SpeechStarted   bool
}

// Detector classifies fixed-duration 16-bit PCM chunks as speech or silence
// and reports turn boundaries. It is a pure function of chunk history and
// configuration; callers own one Detector per live session.
type Detector struct {
	cfg                 Config
	silenceChunksNeeded int

	energyWindow []float64
	silenceCount int
	speechStart  bool
	speaking     bool
}

func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:                 cfg,
		silenceChunksNeeded: int(cfg.SilenceDuration / cfg.ChunkDuration),
	}
}

// Config returns the effective configuration after defaulting.
func (d *Detector) Config() Config { return d.cfg }

// ChunkBytes is the byte length of one complete chunk (16-bit mono PCM).
func (d *Detector) ChunkBytes() int {
	return int(float64(d.cfg.SampleRate)*d.cfg.ChunkDuration) * 2
}

// Process classifies one chunk. Energy is RMS amplitude normalized to [0,1].
// The speech-start latch compares the rolling average over the last
// EnergyWindow chunks, which smooths transient noise; the silence counter
// follows the raw per-chunk energy so the turn ends deterministically after
// SilenceDuration/ChunkDuration consecutive silent chunks.
func (d *Detector) Process(chunk []byte) Activity {
	energy := Energy(chunk)

	d.energyWindow = append(d.energyWindow, energy)
	if len(d.energyWindow) > d.cfg.EnergyWindow {
		d.energyWindow = d.energyWindow[1:]
	}
	var sum float64
	for _, e := range d.energyWindow {
		sum += e
	}
	avg := sum / float64(len(d.energyWindow))

	currentlySpeaking := avg > d.cfg.SilenceThreshold

	if currentlySpeaking && !d.speechStart {
		d.speechStart = true
		d.speaking = true
		d.silenceCount = 0
	}

	if d.speechStart {
		if energy > d.cfg.SilenceThreshold {
			d.silenceCount = 0
			d.speaking = true
		} else {
			d.silenceCount++
		}
	}

	return Activity{
		IsSpeaking:      currentlySpeaking,
		Energy:          energy,
		AvgEnergy:       avg,
		SilenceDetected: !currentlySpeaking && d.speechStart,
		SilenceChunks:   d.silenceCount,
		ShouldEndTurn:   d.speechStart && d.silenceCount >= d.silenceChunksNeeded,
		SpeechStarted:   d.speechStart,
	}
}

// Speaking reports whether the detector is inside a speech segment.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears all state so the next utterance starts clean. Called at every
// turn boundary and after a barge-in.
func (d *Detector) Reset() {
	d.energyWindow = d.energyWindow[:0]
	d.silenceCount = 0
	d.speechStart = false
	d.speaking = false
}

// Energy computes RMS amplitude of a 16-bit little-endian PCM chunk,
// normalized to [0,1]. Malformed (odd-length) tails are ignored.
func Energy(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8)
		f := float64(s)
		sumSq += f * f
	}
	rms := math.Sqrt(sumSq / float64(n))
	return rms / 32768.0
}
