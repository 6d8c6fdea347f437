package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// FrameSink receives encoded capture frames
type FrameSink func(Frame)

// CaptureConfig describes the device stream and the wire format
type CaptureConfig struct {
	NativeRate int // rate of the PCM read from the device
	TargetRate int // rate expected by the voice service
	BlockSize  int // samples per emitted frame, at TargetRate
}

// Capture turns a raw s16le mono device stream into fixed-size encoded frames.
// Frames are delivered to whichever sink is attached; with no sink attached
// they are dropped, never queued.
type Capture struct {
	src  io.Reader
	cfg  CaptureConfig
	ring *RingBuffer

	nativeBlockBytes int

	mu   sync.RWMutex
	sink FrameSink

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewCapture creates a capture pipeline reading from src
func NewCapture(src io.Reader, cfg CaptureConfig) (*Capture, error) {
	if cfg.TargetRate <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid capture config: target rate %d, block size %d", cfg.TargetRate, cfg.BlockSize)
	}
	if cfg.NativeRate < cfg.TargetRate {
		return nil, fmt.Errorf("native rate %d below target rate %d", cfg.NativeRate, cfg.TargetRate)
	}

	nativeSamples := int(int64(cfg.BlockSize) * int64(cfg.NativeRate) / int64(cfg.TargetRate))
	blockBytes := nativeSamples * 2
	return &Capture{
		src:              src,
		cfg:              cfg,
		ring:             NewRingBuffer(blockBytes*4 + 1),
		nativeBlockBytes: blockBytes,
	}, nil
}

// Attach routes subsequent frames to sink, replacing any previous sink
func (c *Capture) Attach(sink FrameSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Detach stops delivery; frames captured until the next Attach are dropped.
// A partially assembled block is discarded too.
func (c *Capture) Detach() {
	c.Attach(nil)
	c.ring.Clear()
}

// Stats returns the number of frames delivered and dropped so far
func (c *Capture) Stats() (sent, dropped uint64) {
	return c.sent.Load(), c.dropped.Load()
}

// Run reads the device until it is closed or ctx is done. Closing the source
// is the way to unblock a pending read.
func (c *Capture) Run(ctx context.Context) error {
	chunk := make([]byte, 4096)
	block := make([]byte, c.nativeBlockBytes)
	for {
		n, err := c.src.Read(chunk)
		if n > 0 {
			c.ingest(chunk[:n], block)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("capture read failed: %w", err)
		}
	}
}

func (c *Capture) ingest(p []byte, block []byte) {
	for len(p) > 0 {
		w := c.ring.Write(p)
		p = p[w:]
		for c.ring.Available() >= len(block) {
			c.ring.Read(block)
			c.emit(block)
		}
	}
}

func (c *Capture) emit(block []byte) {
	samples, err := PCM16ToFloat32(block)
	if err != nil {
		c.dropped.Add(1)
		return
	}
	samples = Downsample(samples, c.cfg.NativeRate, c.cfg.TargetRate)
	frame := EncodeFrame(samples, c.cfg.TargetRate)

	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()

	if sink == nil {
		c.dropped.Add(1)
		return
	}
	c.sent.Add(1)
	sink(frame)
}
