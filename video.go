package rdclient

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"rdclient/internal/ivf"
	"rdclient/internal/protocol"
)

// videoFrameDuration is the nominal presentation duration stamped on each
// recorded media.Sample; real inter-frame spacing is derived from
// VideoFrame.Timestamp deltas where available.
const videoFrameDuration = 33 * time.Millisecond

// videoQueueSize bounds each display's lossy decode queue, per §4.5.
const videoQueueSize = 120

// maxFailCount is the saturating fail-counter ceiling that marks a codec
// unsupported for the remainder of the session.
const maxFailCount = 10

// fpsWarmupSkip is how many initial frames a controller discards before it
// starts sampling FPS, avoiding JIT/driver warm-up noise.
const fpsWarmupSkip = 5

// fpsPublishEvery publishes a fresh FPS estimate every this-many sampled
// frames.
const fpsPublishEvery = 10

// fpsResetAfter resets the accumulator after this many sampled frames so the
// estimate tracks recent behavior rather than a session-long average.
const fpsResetAfter = 150

// VideoDecoder is the seam for a real codec implementation (VP8/VP9/H264/
// AV1 bitstream -> RGBA). It mirrors the audio pipeline's paStream/
// opusEncoder test-seam convention: one "raw" pass-through stand-in ships
// here, and a real decoder can be plugged in without touching the
// controller logic.
type VideoDecoder interface {
	// Decode returns the decoded RGBA pixel buffer (or nil plus a non-empty
	// textureHandle if the decoder targets a platform texture instead),
	// whether the output is a pixel buffer, and the chroma subsampling tag
	// if the decoder reports one.
	Decode(format protocol.CodecFormat, data []byte) (rgba []byte, textureHandle uintptr, isPixelBuffer bool, chromaSub string, err error)
	Valid() bool
}

// rawVideoDecoder is a pass-through decoder used for testing: it treats the
// compressed payload as if it were already RGBA.
type rawVideoDecoder struct {
	format protocol.CodecFormat
	valid  bool
}

func newRawVideoDecoder(format protocol.CodecFormat) *rawVideoDecoder {
	return &rawVideoDecoder{format: format, valid: true}
}

func (d *rawVideoDecoder) Decode(format protocol.CodecFormat, data []byte) ([]byte, uintptr, bool, string, error) {
	if !d.valid {
		return nil, 0, false, "", fmt.Errorf("decoder invalid")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, 0, true, "", nil
}

func (d *rawVideoDecoder) Valid() bool { return d.valid }

// VideoFrameResult is delivered to the UI callback on a successful decode.
type VideoFrameResult struct {
	Display       int
	RGBA          []byte
	TextureHandle uintptr
	IsPixelBuffer bool
}

// videoController tracks per-display decode state, per §4.5.
type videoController struct {
	display   int
	format    protocol.CodecFormat
	decoder   VideoDecoder
	failCount int

	fpsSampled int
	fpsTotal   time.Duration
	lastChroma string

	queue chan protocol.VideoFrame

	recorder *ivf.Writer
}

func newVideoController(display int) *videoController {
	return &videoController{display: display, queue: make(chan protocol.VideoFrame, videoQueueSize)}
}

// enqueue implements the "available for display X" bounded lossy queue:
// drop the oldest frame at the producer when full.
func (vc *videoController) enqueue(frame protocol.VideoFrame) {
	for {
		select {
		case vc.queue <- frame:
			return
		default:
			select {
			case <-vc.queue:
			default:
			}
		}
	}
}

// VideoPipeline drives the decoder thread: a map of per-display controllers,
// an FPS publisher, the mark_unsupported scan, and an optional recorder.
type VideoPipeline struct {
	mu          sync.Mutex
	controllers map[int]*videoController
	decoderFor  func(format protocol.CodecFormat) VideoDecoder
	runStop     <-chan struct{} // set by Run; PushFrame starts new displays' drain loops

	unsupported map[protocol.CodecFormat]bool

	OnFrame       func(VideoFrameResult)
	OnFPS         func(display int, fps float64)
	OnUnsupported func(decoding protocol.SupportedDecoding)
}

// NewVideoPipeline constructs an empty pipeline. decoderFor builds a decoder
// for a given codec format; tests typically supply newRawVideoDecoder.
func NewVideoPipeline(decoderFor func(format protocol.CodecFormat) VideoDecoder) *VideoPipeline {
	if decoderFor == nil {
		decoderFor = func(format protocol.CodecFormat) VideoDecoder { return newRawVideoDecoder(format) }
	}
	return &VideoPipeline{
		controllers: make(map[int]*videoController),
		decoderFor:  decoderFor,
		unsupported: make(map[protocol.CodecFormat]bool),
	}
}

// PushFrame enqueues an inbound frame onto its display's bounded lossy
// queue. The decoder thread (Run) is the only consumer, so a slow decoder
// causes the producer to drop older frames rather than block.
func (vp *VideoPipeline) PushFrame(frame protocol.VideoFrame) {
	vp.mu.Lock()
	vc, ok := vp.controllers[frame.Display]
	if !ok {
		vc = newVideoController(frame.Display)
		vp.controllers[frame.Display] = vc
		if vp.runStop != nil {
			go vp.runController(vc, vp.runStop)
		}
	}
	vp.mu.Unlock()
	vc.enqueue(frame)
}

// Run drives the decoder thread: one goroutine per known display drains its
// queue and calls HandleVideoFrame until stopCh closes. Displays that
// appear after Run starts are picked up the next time PushFrame creates
// them, via runController being started lazily from PushFrame in that case.
func (vp *VideoPipeline) Run(stopCh <-chan struct{}) {
	vp.mu.Lock()
	vp.runStop = stopCh
	controllers := make([]*videoController, 0, len(vp.controllers))
	for _, vc := range vp.controllers {
		controllers = append(controllers, vc)
	}
	vp.mu.Unlock()
	for _, vc := range controllers {
		go vp.runController(vc, stopCh)
	}
}

func (vp *VideoPipeline) runController(vc *videoController, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case frame := <-vc.queue:
			vp.HandleVideoFrame(frame)
		}
	}
}

// HandleVideoFrame implements §4.5 steps 1-6 for one inbound frame. It runs
// synchronously so tests can drive it directly without a decoder thread.
func (vp *VideoPipeline) HandleVideoFrame(frame protocol.VideoFrame) {
	vp.mu.Lock()
	vc, ok := vp.controllers[frame.Display]
	if !ok {
		vc = newVideoController(frame.Display)
		vp.controllers[frame.Display] = vc
	}
	vp.mu.Unlock()

	// Step 1: reset on codec format change.
	if vc.decoder == nil || vc.format != frame.Format {
		vc.decoder = vp.decoderFor(frame.Format)
		vc.format = frame.Format
		vc.failCount = 0
	}

	// Step 2: decode, update fail counter.
	start := time.Now()
	rgba, texHandle, isPixelBuffer, chroma, err := vc.decoder.Decode(frame.Format, frame.Data)
	elapsed := time.Since(start)
	if err != nil {
		if vc.failCount < maxFailCount {
			vc.failCount++
		}
	} else {
		vc.failCount = 0
		// Step 3: invoke UI callback on success.
		if vp.OnFrame != nil {
			vp.OnFrame(VideoFrameResult{Display: frame.Display, RGBA: rgba, TextureHandle: texHandle, IsPixelBuffer: isPixelBuffer})
		}
		if vc.recorder != nil {
			sample := media.Sample{Data: frame.Data, Duration: videoFrameDuration}
			_ = vc.recorder.WriteSample(sample, uint64(frame.Timestamp))
		}
	}

	// Step 4: chroma change publication.
	if chroma != "" && chroma != vc.lastChroma {
		vc.lastChroma = chroma
	}

	// Step 5: FPS sampling, skipping warm-up frames.
	vc.fpsSampled++
	if vc.fpsSampled > fpsWarmupSkip {
		vc.fpsTotal += elapsed
		sampled := vc.fpsSampled - fpsWarmupSkip
		if sampled%fpsPublishEvery == 0 && vc.fpsTotal > 0 {
			fps := float64(sampled) / vc.fpsTotal.Seconds()
			if vp.OnFPS != nil {
				vp.OnFPS(frame.Display, fps)
			}
		}
		if sampled > fpsResetAfter {
			vc.fpsSampled = fpsWarmupSkip
			vc.fpsTotal = 0
		}
	}

	// Step 6: scan all controllers for newly-unsupported formats.
	vp.scanUnsupported()
}

// scanUnsupported implements §4.5 step 6: a decoder counts as unsupported
// if it reports itself invalid OR its fail counter has saturated.
func (vp *VideoPipeline) scanUnsupported() {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	grew := false
	for _, vc := range vp.controllers {
		if vc.decoder == nil {
			continue
		}
		if !vc.decoder.Valid() || vc.failCount >= maxFailCount {
			if !vp.unsupported[vc.format] {
				vp.unsupported[vc.format] = true
				grew = true
			}
		}
	}
	if grew && vp.OnUnsupported != nil {
		vp.OnUnsupported(vp.supportedDecodingLocked())
	}
}

func (vp *VideoPipeline) supportedDecodingLocked() protocol.SupportedDecoding {
	return protocol.SupportedDecoding{
		AbilityVp8:  !vp.unsupported[protocol.CodecVP8],
		AbilityVp9:  !vp.unsupported[protocol.CodecVP9],
		AbilityH264: !vp.unsupported[protocol.CodecH264],
		AbilityH265: !vp.unsupported[protocol.CodecH265],
		AbilityAv1:  !vp.unsupported[protocol.CodecAV1],
	}
}

// SupportedDecoding returns the current (possibly reduced) decode
// capability descriptor.
func (vp *VideoPipeline) SupportedDecoding() protocol.SupportedDecoding {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.supportedDecodingLocked()
}

// StartRecording implements record_screen: install a VP9-container IVF
// recorder for the given display, writing into dir. While active, every
// decoded frame for that display is also fed to the recorder.
func (vp *VideoPipeline) StartRecording(display, width, height int, dir string) error {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vc, ok := vp.controllers[display]
	if !ok {
		vc = newVideoController(display)
		vp.controllers[display] = vc
	}
	path := filepath.Join(dir, fmt.Sprintf("display-%d-%d.ivf", display, time.Now().UnixNano()))
	w, err := ivf.New(path, ivf.FourCCVP9, width, height, 1, 1000)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	vc.recorder = w
	return nil
}

// StopRecording closes the active recorder for a display, if any.
func (vp *VideoPipeline) StopRecording(display int) error {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vc, ok := vp.controllers[display]
	if !ok || vc.recorder == nil {
		return nil
	}
	err := vc.recorder.Close()
	vc.recorder = nil
	return err
}
