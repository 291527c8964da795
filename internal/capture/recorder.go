package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaot623/sparring/internal/domain"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateCancelled State = "cancelled"
)

// Recording attachment metadata. The recorder does not encode audio: the
// buffered chunks are labelled as WAV, so devices must stream WAV bytes
// (FileDevice does when it plays back a .wav file).
const (
	RecordingName     = "recording.wav"
	RecordingMIMEType = "audio/wav"
)

const levelBuffer = 16

// Recorder captures audio from a Device. It owns the device exclusively while
// recording; only one recording may be active at a time.
type Recorder struct {
	device Device
	logger *slog.Logger
	tick   time.Duration

	// op serialises Start/Stop/Cancel so the device is opened and released
	// at most once per recording.
	op sync.Mutex

	mu      sync.Mutex
	state   State
	stream  Stream
	chunks  [][]byte
	seconds int
	stop    chan struct{}
	pumped  chan struct{}

	levels chan float64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithTick overrides the elapsed-time tick, one second by default.
func WithTick(d time.Duration) Option {
	return func(r *Recorder) { r.tick = d }
}

// NewRecorder creates an idle recorder over device.
func NewRecorder(device Device, opts ...Option) *Recorder {
	r := &Recorder{
		device: device,
		logger: slog.Default(),
		tick:   time.Second,
		state:  StateIdle,
		levels: make(chan float64, levelBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start acquires the device and begins buffering audio. Calling Start while
// already recording is a no-op. A failure to acquire the device is returned as
// a media-access error and leaves the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	if r.state == StateRecording {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	stream, err := r.device.Open(ctx)
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		if !errors.Is(err, domain.ErrPermissionDenied) && !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = errors.Join(domain.ErrDeviceUnavailable, err)
		}
		r.logger.Warn("audio device unavailable", "error", err)
		return domain.NewError(domain.KindMediaAccess, "start recording", err)
	}

	stop := make(chan struct{})
	pumped := make(chan struct{})

	r.mu.Lock()
	r.state = StateRecording
	r.stream = stream
	r.chunks = nil
	r.seconds = 0
	r.stop = stop
	r.pumped = pumped
	r.mu.Unlock()

	go r.pump(stream, stop, pumped)
	return nil
}

// Stop finalises the buffered chunks into a single audio attachment, stops the
// counter and releases the device. The attachment carries RecordingName and
// RecordingMIMEType whatever the device streamed.
func (r *Recorder) Stop() (*domain.Attachment, error) {
	r.op.Lock()
	defer r.op.Unlock()

	if !r.release() {
		return nil, domain.ErrNotRecording
	}

	r.mu.Lock()
	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.state = StateStopped
	r.mu.Unlock()

	return &domain.Attachment{
		Kind:     domain.AttachmentAudio,
		Name:     RecordingName,
		MIMEType: RecordingMIMEType,
		Data:     data,
	}, nil
}

// Cancel discards the buffered chunks, releases the device and resets the
// counter. No attachment is produced. Cancelling an idle recorder does nothing.
func (r *Recorder) Cancel() {
	r.op.Lock()
	defer r.op.Unlock()

	if !r.release() {
		return
	}

	r.mu.Lock()
	r.chunks = nil
	r.seconds = 0
	r.state = StateCancelled
	r.mu.Unlock()
}

// release stops the pump and closes the stream. It reports false when there
// was no active recording. Callers hold r.op.
func (r *Recorder) release() bool {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return false
	}
	stream, stop, pumped := r.stream, r.stop, r.pumped
	r.stream = nil
	r.mu.Unlock()

	close(stop)
	<-pumped
	if err := stream.Close(); err != nil {
		r.logger.Warn("failed to release audio device", "error", err)
	}
	return true
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the recording time at one-tick resolution.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.seconds) * time.Second
}

// Levels is a read-only tap of per-chunk peak levels in [0, 1] for waveform
// display. Levels are dropped when the reader falls behind; capture never
// waits for it.
func (r *Recorder) Levels() <-chan float64 {
	return r.levels
}

func (r *Recorder) pump(stream Stream, stop <-chan struct{}, pumped chan<- struct{}) {
	defer close(pumped)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	chunks := stream.Chunks()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.seconds++
			r.mu.Unlock()
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf := make([]byte, len(chunk))
			copy(buf, chunk)
			r.mu.Lock()
			r.chunks = append(r.chunks, buf)
			r.mu.Unlock()

			select {
			case r.levels <- peakLevel(buf):
			default:
			}
		}
	}
}

// peakLevel treats chunk as 16-bit little-endian PCM.
func peakLevel(chunk []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(chunk); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(chunk[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 32768
}
