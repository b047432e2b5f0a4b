package rdclient

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"rdclient/internal/aec"
	"rdclient/internal/agc"
	"rdclient/internal/jitter"
	"rdclient/internal/noisegate"
	"rdclient/internal/protocol"
	"rdclient/internal/resample"
	"rdclient/internal/vad"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"
)

// Audio pipeline constants, per §4.6. sampleRate/FrameSize/opusBitrate
// describe the local capture/encode side; the peer's negotiated format
// (from the first AudioFormat message) may differ and is reconciled by
// resample.Linear/Rechannel on the playback side.
const (
	sampleRate  = 48000
	channels    = 1
	FrameSize   = 960 // 20ms @ 48kHz
	opusBitrate = 32000

	captureChannelBuf  = 30
	opusMaxPacketBytes = 1275 // RFC 6716 max Opus packet size

	// ringSeconds is the depth of the playback ring buffer: one second of
	// local output, i.e. sampleRate*channels = 48000 mono f32 samples.
	ringSeconds = 1
)

// AudioDevice describes an available audio device.
type AudioDevice struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// paStream abstracts a PortAudio stream for testing.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// opusEncoder abstracts Opus encoding for testing.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
	SetBitrate(bitrate int) error
	SetDTX(dtx bool) error
	SetInBandFEC(fec bool) error
	SetPacketLossPerc(lossPerc int) error
}

// opusDecoder abstracts Opus decoding for testing.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
	DecodeFEC(data []byte, pcm []int16) error
}

// ringBuffer is the mutex-protected single-producer/single-consumer queue
// backing audio playback (§5 "Shared resources"). Pop drains min(len,
// wanted) samples and zero-pads the remainder, flipping ready on first call
// — mirroring the cpal output-callback contract described in §4.6.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []float32
	cap   int
	ready atomic.Bool
}

func newRingBuffer(capSamples int) *ringBuffer {
	return &ringBuffer{cap: capSamples}
}

func (r *ringBuffer) Push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, samples...)
	if over := len(r.buf) - r.cap; over > 0 {
		// Prefer the freshest samples: drop from the front (oldest).
		r.buf = r.buf[over:]
	}
}

func (r *ringBuffer) Pop(want int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float32, want)
	n := len(r.buf)
	if n > want {
		n = want
	}
	copy(out, r.buf[:n])
	r.buf = r.buf[n:]
	r.ready.Store(true)
	return out
}

// Ready reports whether Pop has been called at least once.
func (r *ringBuffer) Ready() bool { return r.ready.Load() }

// AudioPipeline decodes inbound peer audio for playback and, optionally,
// encodes local microphone audio for an outbound channel back to the peer
// (§4.6 and the DOMAIN STACK expansion). One AudioPipeline serves one
// connected session.
type AudioPipeline struct {
	mu sync.Mutex

	inputDeviceID  int
	outputDeviceID int
	volume         float64
	nc             *NoiseCanceller

	encoder opusEncoder
	decoder opusDecoder

	captureStream  paStream
	playbackStream paStream

	// CaptureOut carries encoded Opus frames ready to send to the peer as
	// AudioFrame messages.
	CaptureOut chan []byte

	// peerSampleRate/peerChannels record the format announced by the
	// peer's first AudioFormat message; 0 means "not yet negotiated".
	peerSampleRate int
	peerChannels   int
	ring           *ringBuffer
	jb             *jitter.Buffer

	notifCh    chan []float32
	notifScale atomic.Uint32

	aecProc    *aec.AEC
	aecEnabled atomic.Bool

	agcProc    *agc.AGC
	agcEnabled atomic.Bool

	vadProc  *vad.VAD
	gateProc *noisegate.Gate

	running   atomic.Bool
	testMode  atomic.Bool
	muted     atomic.Bool
	deafened  atomic.Bool
	pttMode   atomic.Bool
	pttActive atomic.Bool

	currentBitrate atomic.Int32

	captureDropped  atomic.Uint64
	playbackDropped atomic.Uint64
	inputLevel      atomic.Uint32

	stopCh     chan struct{}
	wg         sync.WaitGroup
	OnSpeaking func()
}

const notifChannelBuf = 200

// NewAudioPipeline returns an AudioPipeline with default settings.
func NewAudioPipeline() *AudioPipeline {
	ap := &AudioPipeline{
		inputDeviceID:  -1,
		outputDeviceID: -1,
		volume:         1.0,
		aecProc:        aec.New(FrameSize),
		agcProc:        agc.New(),
		vadProc:        vad.New(),
		gateProc:       noisegate.New(),
		CaptureOut:     make(chan []byte, captureChannelBuf),
		jb:             jitter.New(1),
		notifCh:        make(chan []float32, notifChannelBuf),
		stopCh:         make(chan struct{}),
	}
	ap.notifScale.Store(math.Float32bits(1.0))
	return ap
}

func (ap *AudioPipeline) SetNoiseCanceller(nc *NoiseCanceller) {
	ap.mu.Lock()
	ap.nc = nc
	ap.mu.Unlock()
}

func (ap *AudioPipeline) Done() <-chan struct{} { return ap.stopCh }

func (ap *AudioPipeline) ListInputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

func (ap *AudioPipeline) ListOutputDevices() []AudioDevice {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []AudioDevice {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Printf("[audio] list devices: %v", err)
		return nil
	}
	var out []AudioDevice
	for i, d := range devices {
		if match(d) {
			out = append(out, AudioDevice{ID: i, Name: d.Name})
		}
	}
	return out
}

func (ap *AudioPipeline) SetInputDevice(id int) {
	ap.mu.Lock()
	ap.inputDeviceID = id
	ap.mu.Unlock()
}

func (ap *AudioPipeline) SetOutputDevice(id int) {
	ap.mu.Lock()
	ap.outputDeviceID = id
	ap.mu.Unlock()
}

func (ap *AudioPipeline) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	ap.mu.Lock()
	ap.volume = vol
	ap.mu.Unlock()
}

func (ap *AudioPipeline) SetAEC(enabled bool) {
	ap.aecProc.SetEnabled(enabled)
	ap.aecEnabled.Store(enabled)
}

func (ap *AudioPipeline) SetAGC(enabled bool) {
	if enabled {
		ap.agcProc.Reset()
	}
	ap.agcEnabled.Store(enabled)
}

func (ap *AudioPipeline) SetVAD(enabled bool) { ap.vadProc.SetEnabled(enabled) }

func (ap *AudioPipeline) SetNoiseGate(enabled bool) { ap.gateProc.SetEnabled(enabled) }

func (ap *AudioPipeline) InputLevel() float32 {
	return math.Float32frombits(ap.inputLevel.Load())
}

// SetBitrate changes the Opus encoder target bitrate (kbps) for the
// outbound microphone channel, clamped to Opus's valid range.
func (ap *AudioPipeline) SetBitrate(kbps int) {
	if kbps < 6 {
		kbps = 6
	}
	if kbps > 510 {
		kbps = 510
	}
	ap.mu.Lock()
	if ap.encoder != nil {
		if err := ap.encoder.SetBitrate(kbps * 1000); err != nil {
			log.Printf("[audio] SetBitrate %d kbps: %v", kbps, err)
		}
	}
	ap.mu.Unlock()
	ap.currentBitrate.Store(int32(kbps))
}

func (ap *AudioPipeline) CurrentBitrate() int { return int(ap.currentBitrate.Load()) }

// SetPacketLoss tells the Opus encoder the expected packet loss percentage
// so it can tune how much FEC redundancy to embed. lossPercent is clamped
// to [0, 100].
func (ap *AudioPipeline) SetPacketLoss(lossPercent int) {
	if lossPercent < 0 {
		lossPercent = 0
	}
	if lossPercent > 100 {
		lossPercent = 100
	}
	ap.mu.Lock()
	if ap.encoder != nil {
		if err := ap.encoder.SetPacketLossPerc(lossPercent); err != nil {
			log.Printf("[audio] SetPacketLossPerc %d%%: %v", lossPercent, err)
		}
	}
	ap.mu.Unlock()
}

// AddPlaybackDrop records one dropped playback frame (e.g. ring buffer
// underrun). Read and reset via DroppedFrames.
func (ap *AudioPipeline) AddPlaybackDrop() { ap.playbackDropped.Add(1) }

// HandleAudioFormat negotiates the peer's announced sample rate/channels
// and (re)sizes the playback ring buffer, per §4.6 "On first AudioFormat
// message: open a platform sink".
func (ap *AudioPipeline) HandleAudioFormat(format protocol.AudioFormat) {
	ap.mu.Lock()
	ap.peerSampleRate = format.SampleRate
	ap.peerChannels = format.Channels
	ap.ring = newRingBuffer(sampleRate * channels * ringSeconds)
	ap.mu.Unlock()
	log.Printf("[audio] negotiated peer format rate=%d channels=%d", format.SampleRate, format.Channels)
}

// HandleAudioFrame decodes one inbound Opus frame (through the jitter
// buffer for reordering/loss concealment), resamples/rechannels it to the
// local device format if needed, and pushes it into the playback ring
// buffer.
func (ap *AudioPipeline) HandleAudioFrame(frame protocol.AudioFrame) {
	ap.jb.Push(0, uint16(frame.Timestamp), frame.Data)
	for _, f := range ap.jb.Pop() {
		ap.decodeAndEnqueue(f)
	}
}

func (ap *AudioPipeline) decodeAndEnqueue(f jitter.Frame) {
	ap.mu.Lock()
	dec := ap.decoder
	srcRate := ap.peerSampleRate
	srcChannels := ap.peerChannels
	ring := ap.ring
	ap.mu.Unlock()
	if dec == nil || ring == nil {
		return
	}
	if srcRate == 0 {
		srcRate = sampleRate
	}
	if srcChannels == 0 {
		srcChannels = channels
	}

	pcm := make([]int16, FrameSize*srcChannels)
	var n int
	var err error
	if f.OpusData != nil {
		n, err = dec.Decode(f.OpusData, pcm)
	} else if f.FECData != nil {
		// Forward error correction: recover the lost frame from the
		// redundancy carried in the next packet.
		err = dec.DecodeFEC(f.FECData, pcm)
		n = FrameSize
	} else {
		// Packet loss concealment: Opus extrapolates from internal state.
		n, err = dec.Decode(nil, pcm)
	}
	if err != nil {
		log.Printf("[audio] decode: %v", err)
		return
	}

	floats := make([]float32, n*srcChannels)
	for i := range floats {
		floats[i] = float32(pcm[i]) / 32768.0
	}

	out := resample.Linear(floats, srcRate, sampleRate, srcChannels)
	out = resample.Rechannel(out, srcChannels, channels)
	ring.Push(out)
}

// Start initializes the Opus codec and starts capture/playback streams.
func (ap *AudioPipeline) Start() error {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.running.Load() {
		return nil
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return err
	}
	enc.SetBitrate(opusBitrate)
	enc.SetDTX(true)
	enc.SetInBandFEC(true)
	enc.SetPacketLossPerc(5)
	ap.encoder = enc
	ap.currentBitrate.Store(opusBitrate / 1000)

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return err
	}
	ap.decoder = dec
	if ap.ring == nil {
		ap.ring = newRingBuffer(sampleRate * channels * ringSeconds)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	inputDev, err := resolveDevice(devices, ap.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return err
	}
	outputDev, err := resolveDevice(devices, ap.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return err
	}

	captureBuf := make([]float32, FrameSize)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: FrameSize,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return err
	}

	playbackBuf := make([]float32, FrameSize)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: FrameSize,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return err
	}

	ap.captureStream = captureStream
	ap.playbackStream = playbackStream
	ap.stopCh = make(chan struct{})
	ap.running.Store(true)

	ap.wg.Add(2)
	go func() { defer ap.wg.Done(); ap.captureLoop(captureBuf) }()
	go func() { defer ap.wg.Done(); ap.playbackLoop(playbackBuf) }()

	log.Printf("[audio] started capture=%s playback=%s", inputDev.Name, outputDev.Name)
	return nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// stopGracePeriod bounds how long Stop() waits for the capture/playback
// goroutines to exit after the PortAudio streams are told to stop. A
// cooperative stream's Stop() unblocks Read/Write well within this window;
// a stuck backend is handed off to a background closer instead of hanging
// the caller.
const stopGracePeriod = 50 * time.Millisecond

// Stop halts audio capture and playback. Streams are stopped before the
// capture/playback goroutines are awaited, and closed only after — freeing
// the native stream while a goroutine still touches it crashes the process.
// If the goroutines don't exit within stopGracePeriod, Stop returns anyway
// and a background goroutine finishes the close once they do.
func (ap *AudioPipeline) Stop() {
	if !ap.running.CompareAndSwap(true, false) {
		return
	}
	close(ap.stopCh)

	ap.mu.Lock()
	capture := ap.captureStream
	playback := ap.playbackStream
	if capture != nil {
		capture.Stop()
	}
	if playback != nil {
		playback.Stop()
	}
	ap.mu.Unlock()

	done := make(chan struct{})
	go func() { ap.wg.Wait(); close(done) }()

	select {
	case <-done:
		ap.closeStreams(capture, playback)
		log.Println("[audio] stopped")
	case <-time.After(stopGracePeriod):
		log.Println("[audio] stop: streams slow to unblock, closing in background")
		go func() {
			<-done
			ap.closeStreams(capture, playback)
			log.Println("[audio] stopped (deferred)")
		}()
	}
}

func (ap *AudioPipeline) closeStreams(capture, playback paStream) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if capture != nil {
		capture.Close()
	}
	if playback != nil {
		playback.Close()
	}
	if ap.captureStream == capture {
		ap.captureStream = nil
	}
	if ap.playbackStream == playback {
		ap.playbackStream = nil
	}
}

func zeroFloat32(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// captureLoop runs the full capture-side DSP chain before encoding and
// queuing each frame for the outbound microphone channel: AEC, noise gate
// (with speaking-detection RMS), RNNoise cancellation, AGC, PTT gate, VAD,
// then Opus encode.
func (ap *AudioPipeline) captureLoop(buf []float32) {
	pcm := make([]int16, FrameSize)
	opusBuf := make([]byte, opusMaxPacketBytes)
	var lastSpeakEmit time.Time

	for ap.running.Load() {
		if err := ap.captureStream.Read(); err != nil {
			if ap.running.Load() {
				log.Printf("[audio] capture read: %v", err)
			}
			return
		}

		if ap.aecEnabled.Load() {
			ap.aecProc.Process(buf)
		}

		preGateRMS := ap.gateProc.Process(buf)
		ap.inputLevel.Store(math.Float32bits(preGateRMS))

		rms := vad.RMS(buf)
		if ap.OnSpeaking != nil && !ap.muted.Load() && rms > 0.01 && time.Since(lastSpeakEmit) > 80*time.Millisecond {
			lastSpeakEmit = time.Now()
			ap.OnSpeaking()
		}

		ap.mu.Lock()
		nc := ap.nc
		ap.mu.Unlock()
		if nc != nil {
			nc.Process(buf)
		}

		if ap.agcEnabled.Load() {
			ap.agcProc.Process(buf)
		}

		if ap.pttMode.Load() && !ap.pttActive.Load() {
			continue
		}

		if !ap.pttMode.Load() {
			if nc != nil {
				if !ap.vadProc.ShouldSendProb(nc.VADProbability()) {
					continue
				}
			} else if !ap.vadProc.ShouldSend(vad.RMS(buf)) {
				continue
			}
		}

		for i, s := range buf {
			pcm[i] = int16(clampFloat32(s) * 32767)
		}

		n, err := ap.encoder.Encode(pcm, opusBuf)
		if err != nil {
			log.Printf("[audio] encode: %v", err)
			continue
		}
		encoded := make([]byte, n)
		copy(encoded, opusBuf[:n])

		if !ap.muted.Load() {
			select {
			case ap.CaptureOut <- encoded:
			default:
				ap.captureDropped.Add(1)
			}
		}
	}
}

func (ap *AudioPipeline) playbackLoop(buf []float32) {
	for {
		select {
		case <-ap.stopCh:
			return
		default:
		}

		zeroFloat32(buf)

		if !ap.deafened.Load() {
			ap.mu.Lock()
			vol := ap.volume
			ring := ap.ring
			ap.mu.Unlock()

			if ring != nil {
				popped := ring.Pop(len(buf))
				scale := float32(vol)
				for i := range buf {
					buf[i] = clampFloat32(popped[i] * scale)
				}
			}
		}

		select {
		case notifFrame := <-ap.notifCh:
			ns := math.Float32frombits(ap.notifScale.Load())
			for i, s := range notifFrame {
				buf[i] = clampFloat32(buf[i] + s*ns)
			}
		default:
		}

		ap.aecProc.FeedFarEnd(buf)

		if err := ap.playbackStream.Write(); err != nil {
			if ap.running.Load() {
				log.Printf("[audio] playback write: %v", err)
			}
			return
		}
	}
}

func (ap *AudioPipeline) StartTest() error {
	ap.testMode.Store(true)
	return ap.Start()
}

func (ap *AudioPipeline) StopTest() {
	ap.testMode.Store(false)
	ap.Stop()
}

func (ap *AudioPipeline) SetMuted(muted bool)     { ap.muted.Store(muted) }
func (ap *AudioPipeline) SetDeafened(deafened bool) { ap.deafened.Store(deafened) }

func (ap *AudioPipeline) SetPTTMode(enabled bool) {
	ap.pttMode.Store(enabled)
	if !enabled {
		ap.pttActive.Store(false)
	}
}

func (ap *AudioPipeline) SetPTTActive(active bool) { ap.pttActive.Store(active) }
func (ap *AudioPipeline) IsPTTMode() bool          { return ap.pttMode.Load() }
func (ap *AudioPipeline) IsPTTActive() bool        { return ap.pttActive.Load() }

func (ap *AudioPipeline) DroppedFrames() (capture, playback uint64) {
	return ap.captureDropped.Swap(0), ap.playbackDropped.Swap(0)
}

// EncodeFrame encodes a PCM int16 frame to Opus. Exported for testing.
func (ap *AudioPipeline) EncodeFrame(pcm []int16) ([]byte, error) {
	buf := make([]byte, opusMaxPacketBytes)
	n, err := ap.encoder.Encode(pcm, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// DecodeFrame decodes an Opus frame to PCM int16. Exported for testing.
func (ap *AudioPipeline) DecodeFrame(data []byte) ([]int16, error) {
	pcm := make([]int16, FrameSize)
	n, err := ap.decoder.Decode(data, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n], nil
}

// playNotification enqueues synthesised PCM frames for sound onto notifCh,
// dropping frames rather than blocking if the channel is full.
func (ap *AudioPipeline) playNotification(sound NotificationSound) {
	frames := generateNotificationFrames(sound)
	if len(frames) == 0 {
		return
	}
	go func() {
		stopCh := ap.stopCh
		for _, frame := range frames {
			select {
			case <-stopCh:
				return
			case ap.notifCh <- frame:
			default:
			}
		}
	}()
}
