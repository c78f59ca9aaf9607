package audio

import (
	"bytes"
	"sync"
	"time"
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithMaxDuration caps the buffered audio. Chunks beyond the cap are
// discarded; the duration counter keeps running.
func WithMaxDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.max = d }
}

// WithTick registers fn to receive the elapsed whole seconds once per second.
func WithTick(fn func(seconds int)) RecorderOption {
	return func(r *Recorder) { r.onTick = fn }
}

// Recorder collects the chunks of a [Lease] into a single buffer while
// counting elapsed seconds. It owns the lease: Stop and Release both free the
// device.
type Recorder struct {
	lease  *Lease
	max    time.Duration
	onTick func(int)

	mu      sync.Mutex
	buf     bytes.Buffer
	seconds int
	started time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	clip Clip
}

// NewRecorder starts recording from lease.
func NewRecorder(lease *Lease, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		lease:   lease,
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.wg.Add(2)
	go r.collect()
	go r.tick()
	return r
}

// StartedAt returns when recording began.
func (r *Recorder) StartedAt() time.Time { return r.started }

// Seconds returns the elapsed whole seconds.
func (r *Recorder) Seconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seconds
}

// Stop finalises the recording into one PCM clip, stops the counter and
// releases the device. Later calls return the same clip.
func (r *Recorder) Stop() Clip {
	r.finish(true)
	return r.clip
}

// Release stops recording and discards the buffered audio.
func (r *Recorder) Release() {
	r.finish(false)
}

func (r *Recorder) finish(keep bool) {
	r.once.Do(func() {
		_ = r.lease.Release()
		close(r.stop)
		r.wg.Wait()

		r.mu.Lock()
		defer r.mu.Unlock()
		if keep {
			r.clip = Clip{
				Data:     bytes.Clone(r.buf.Bytes()),
				Format:   r.lease.Format(),
				Encoding: EncodingPCM16,
			}
		}
		r.buf = bytes.Buffer{}
	})
}

func (r *Recorder) collect() {
	defer r.wg.Done()
	limit := 0
	if r.max > 0 {
		f := r.lease.Format()
		limit = int(r.max.Seconds() * float64(f.SampleRate*f.Channels*bytesPerSample))
	}
	add := func(chunk []byte) {
		r.mu.Lock()
		if limit == 0 || r.buf.Len()+len(chunk) <= limit {
			r.buf.Write(chunk)
		}
		r.mu.Unlock()
	}
	ch := r.lease.Chunks()
	for {
		select {
		case <-r.stop:
			// Keep what the device delivered before it was released.
			for {
				select {
				case chunk, ok := <-ch:
					if !ok {
						return
					}
					add(chunk)
				default:
					return
				}
			}
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			add(chunk)
		}
	}
}

func (r *Recorder) tick() {
	defer r.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.mu.Lock()
			r.seconds++
			s := r.seconds
			r.mu.Unlock()
			if r.onTick != nil {
				r.onTick(s)
			}
		}
	}
}
