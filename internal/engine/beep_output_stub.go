//go:build !((linux && cgo) || windows || darwin)

package engine

import (
	"fmt"
	"time"
)

// AudioAvailable indicates whether audio rendering is supported in this
// build.
const AudioAvailable = false

// BeepOutput is a stub for platforms without a speaker binding. Commands
// that require rendering fail with an explanatory error; everything else is
// a no-op so the state machine still exercises its protocol.
type BeepOutput struct {
	endFn func()
}

func NewBeepOutput() *BeepOutput { return &BeepOutput{} }

func (o *BeepOutput) Play(Handle) error {
	return fmt.Errorf("audio output not available in this build")
}

func (o *BeepOutput) QueueNext(Handle) error {
	return fmt.Errorf("audio output not available in this build")
}

func (o *BeepOutput) ClearNext()               {}
func (o *BeepOutput) SkipNext() bool           { return false }
func (o *BeepOutput) Pause()                   {}
func (o *BeepOutput) Resume()                  {}
func (o *BeepOutput) Stop()                    {}
func (o *BeepOutput) Seek(time.Duration) error { return nil }
func (o *BeepOutput) Position() time.Duration  { return 0 }
func (o *BeepOutput) SetVolume(float64)        {}
func (o *BeepOutput) SetEndFunc(fn func())     { o.endFn = fn }
