package controller

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/fogfactory/sidecar/internal/queue"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/task"
	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RecordingExt is the extension of recording files. Compressed recordings add ".zst".
const RecordingExt = ".pri"

// Recorder writes the envelopes of one output channel to a file from its own goroutine.
type Recorder struct {
	path    string
	log     *zap.Logger
	queue   *queue.Queue[*message.Message]
	file    *os.File
	buf     *bufio.Writer
	zw      *zstd.Encoder
	done    chan struct{}
	written atomic.Uint64
	err     atomic.Pointer[error]
}

// StartRecorder creates path and starts writing the messages given to Record.
func StartRecorder(path string, compress bool, log *zap.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("controller: create recording: %w", err)
	}
	r := &Recorder{
		path:  path,
		log:   log.With(zap.String("path", path)),
		queue: queue.New[*message.Message](),
		file:  f,
		done:  make(chan struct{}),
	}
	var w io.Writer = f
	if compress {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("controller: zstd writer: %w", err)
		}
		r.zw = zw
		w = zw
	}
	r.buf = bufio.NewWriterSize(w, 64<<10)
	go r.run()
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

// Written returns the number of messages written so far.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Queued returns the number of messages waiting to be written.
func (r *Recorder) Queued() int { return r.queue.Len() }

// Record queues msg for writing. It fails once the recorder is stopped or a write failed.
func (r *Recorder) Record(msg *message.Message) error {
	if errp := r.err.Load(); errp != nil {
		return *errp
	}
	return r.queue.Put(msg)
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		msg, err := r.queue.Get()
		if err != nil {
			break
		}
		r.write(msg)
	}
	for _, msg := range r.queue.Drain() {
		r.write(msg)
	}
}

func (r *Recorder) write(msg *message.Message) {
	if r.err.Load() != nil {
		return
	}
	data, err := msg.Encoded()
	if err == nil {
		_, err = r.buf.Write(data)
	}
	if err != nil {
		r.log.Error("recording failed", zap.Error(err))
		r.err.Store(&err)
		return
	}
	r.written.Add(1)
}

// Stop writes the queued messages, then closes the file.
func (r *Recorder) Stop() error {
	r.queue.Deactivate()
	<-r.done
	var errs []error
	if errp := r.err.Load(); errp != nil {
		errs = append(errs, *errp)
	}
	errs = append(errs, r.buf.Flush())
	if r.zw != nil {
		errs = append(errs, r.zw.Close())
	}
	errs = append(errs, r.file.Close())
	r.log.Info("recording stopped", zap.Uint64("written", r.Written()))
	return errors.Join(errs...)
}

// recordingPath names the recording of output index out of n under dir.
func (c *Controller) recordingPath(dir string, index, n int) string {
	name := c.Name()
	if n > 1 {
		name += "-" + strconv.Itoa(index+1)
	}
	name += RecordingExt
	if c.recordingCompressed.Get() {
		name += ".zst"
	}
	return filepath.Join(dir, name)
}

func (c *Controller) setRecording(rc task.RecordingStateChange) error {
	if !c.recordingEnabled.Get() {
		return nil
	}
	if !rc.On {
		c.recording.Store(false)
		c.stopRecordings()
		if o, ok := c.algorithm.(RecordingObserver); ok {
			o.RecordingStopped()
		}
		return nil
	}
	if err := c.startRecordings(rc.Path); err != nil {
		return fmt.Errorf("failed to start recorders: %w", err)
	}
	c.recording.Store(true)
	if o, ok := c.algorithm.(RecordingObserver); ok {
		o.RecordingStarted()
	}
	return nil
}

func (c *Controller) startRecordings(dir string) error {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	c.stopRecordingsLocked()
	n := len(c.Outputs())
	for index := range n {
		path := c.recordingPath(dir, index, n)
		c.log.Info("recording", zap.String("path", path), zap.Int("output", index))
		r, err := StartRecorder(path, c.recordingCompressed.Get(), c.log)
		if err != nil {
			c.stopRecordingsLocked()
			return err
		}
		c.recorders = append(c.recorders, r)
	}
	return nil
}

func (c *Controller) stopRecordings() {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	c.stopRecordingsLocked()
}

func (c *Controller) stopRecordingsLocked() {
	for _, r := range c.recorders {
		if err := r.Stop(); err != nil {
			c.log.Warn("closing recording failed", zap.String("path", r.Path()), zap.Error(err))
		}
	}
	c.recorders = nil
}

func (c *Controller) record(msg *message.Message, index int) error {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if index >= len(c.recorders) {
		return nil
	}
	return c.recorders[index].Record(msg)
}

func (c *Controller) recordingQueueCount() int {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	return lo.SumBy(c.recorders, func(r *Recorder) int { return r.Queued() })
}

// Recorders returns the active recorders, one per output channel.
func (c *Controller) Recorders() []*Recorder {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	return slices.Clone(c.recorders)
}
