//go:build (linux && cgo) || windows || darwin

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// AudioAvailable indicates whether audio rendering is supported in this
// build.
const AudioAvailable = true

const outputSampleRate = beep.SampleRate(44100)

// chainItem pairs a rendered streamer with its decode handle so position
// queries survive the roll-over from current to next.
type chainItem struct {
	streamer beep.Streamer
	handle   *beepHandle
}

// chainStreamer renders the current item and rolls into the queued successor
// inside the same device callback the moment the current item drains, so the
// hardware buffer never empties between tracks. All fields are guarded by
// the speaker lock.
type chainStreamer struct {
	cur   *chainItem
	next  *chainItem
	onEnd func()
}

func (c *chainStreamer) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) && c.cur != nil {
		n, ok := c.cur.streamer.Stream(samples[filled:])
		filled += n
		if !ok {
			c.cur = c.next
			c.next = nil
			if c.onEnd != nil {
				// Off the device callback; the engine serializes it onto
				// its control loop.
				go c.onEnd()
			}
		}
	}
	// Pad with silence and stay alive; the chain is installed in the
	// speaker once and items come and go.
	for i := filled; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (c *chainStreamer) Err() error { return nil }

// BeepOutput renders beep handles through the platform speaker.
type BeepOutput struct {
	mu          sync.Mutex
	initialized bool

	chain  *chainStreamer
	ctrl   *beep.Ctrl
	volume *effects.Volume
}

func NewBeepOutput() *BeepOutput {
	chain := &chainStreamer{}
	ctrl := &beep.Ctrl{Streamer: chain}
	vol := &effects.Volume{Streamer: ctrl, Base: 2}
	return &BeepOutput{chain: chain, ctrl: ctrl, volume: vol}
}

func (o *BeepOutput) initSpeaker() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return nil
	}
	if err := speaker.Init(outputSampleRate, outputSampleRate.N(time.Second/10)); err != nil {
		return err
	}
	speaker.Play(o.volume)
	o.initialized = true
	return nil
}

func (o *BeepOutput) item(h Handle) (*chainItem, error) {
	bh, ok := h.(*beepHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	var streamer beep.Streamer = bh.streamer
	if bh.format.SampleRate != outputSampleRate {
		streamer = beep.Resample(4, bh.format.SampleRate, outputSampleRate, bh.streamer)
	}
	return &chainItem{streamer: streamer, handle: bh}, nil
}

func (o *BeepOutput) Play(h Handle) error {
	if err := o.initSpeaker(); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}
	item, err := o.item(h)
	if err != nil {
		return err
	}
	if err := item.handle.streamer.Seek(0); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}

	speaker.Lock()
	o.chain.cur = item
	o.chain.next = nil
	o.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (o *BeepOutput) QueueNext(h Handle) error {
	item, err := o.item(h)
	if err != nil {
		return err
	}
	speaker.Lock()
	o.chain.next = item
	speaker.Unlock()
	return nil
}

func (o *BeepOutput) ClearNext() {
	speaker.Lock()
	o.chain.next = nil
	speaker.Unlock()
}

func (o *BeepOutput) SkipNext() bool {
	speaker.Lock()
	defer speaker.Unlock()
	if o.chain.next == nil {
		return false
	}
	// Manual cut: no end notification, the state machine drives the
	// bookkeeping itself.
	o.chain.cur = o.chain.next
	o.chain.next = nil
	o.ctrl.Paused = false
	return true
}

func (o *BeepOutput) Pause() {
	speaker.Lock()
	o.ctrl.Paused = true
	speaker.Unlock()
}

func (o *BeepOutput) Resume() {
	speaker.Lock()
	o.ctrl.Paused = false
	speaker.Unlock()
}

func (o *BeepOutput) Stop() {
	o.mu.Lock()
	initialized := o.initialized
	o.mu.Unlock()
	if !initialized {
		return
	}
	speaker.Lock()
	o.chain.cur = nil
	o.chain.next = nil
	o.ctrl.Paused = false
	speaker.Unlock()
}

func (o *BeepOutput) Seek(pos time.Duration) error {
	speaker.Lock()
	defer speaker.Unlock()
	if o.chain.cur == nil {
		return nil
	}
	h := o.chain.cur.handle
	return h.streamer.Seek(h.format.SampleRate.N(pos))
}

func (o *BeepOutput) Position() time.Duration {
	o.mu.Lock()
	initialized := o.initialized
	o.mu.Unlock()
	if !initialized {
		return 0
	}
	speaker.Lock()
	defer speaker.Unlock()
	if o.chain.cur == nil {
		return 0
	}
	h := o.chain.cur.handle
	return h.format.SampleRate.D(h.streamer.Position())
}

func (o *BeepOutput) SetVolume(level float64) {
	speaker.Lock()
	defer speaker.Unlock()
	if level <= 0 {
		o.volume.Silent = true
		return
	}
	o.volume.Silent = false
	// Maps [0,1] onto a log scale around unity gain.
	o.volume.Volume = level*2 - 2
}

func (o *BeepOutput) SetEndFunc(fn func()) {
	speaker.Lock()
	o.chain.onEnd = fn
	speaker.Unlock()
}
