// Package logagg batches captured service output. Pipe-reader goroutines
// append lines to per-service buffers; a scheduler-driven flush emits one
// batched update per service and stream, writes the lines to the rotating
// capture files, and clears the buffer. This trades log latency (bounded by
// the flush interval) for far fewer update events under high output volume.
package logagg

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/loykin/fleetd/internal/logger"
	"github.com/loykin/fleetd/internal/metrics"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	// DefaultRingSize bounds the per-service recent-line memory used by the
	// status API.
	DefaultRingSize = 500

	// Scanner line cap; longer lines are split.
	maxLineBytes = 256 * 1024
)

// Batch is one flushed update: the accumulated lines of a single service
// stream since the previous flush. Per-service emission order is preserved;
// ordering across services is best-effort.
type Batch struct {
	Name   string    `json:"name"`
	Stream string    `json:"stream"`
	Lines  []string  `json:"lines"`
	At     time.Time `json:"at"`
}

type streamKey struct {
	name   string
	stream string
}

type fileWriters struct {
	out io.WriteCloser
	err io.WriteCloser
}

// Aggregator buffers service output between flushes. Append runs on the
// pipe-reader goroutines and is the only mutex-guarded path; Flush runs on
// the scheduler loop.
type Aggregator struct {
	mu   sync.Mutex
	bufs map[streamKey][]string

	rings    map[string]*ring
	ringSize int
	files    map[string]fileWriters

	subs []chan Batch
}

func New(ringSize int) *Aggregator {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Aggregator{
		bufs:     make(map[streamKey][]string),
		rings:    make(map[string]*ring),
		ringSize: ringSize,
		files:    make(map[string]fileWriters),
	}
}

// Register prepares capture-file writers for a service. Safe to call again
// after a restart; existing writers are kept.
func (a *Aggregator) Register(name string, cfg logger.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rings[name]; !ok {
		a.rings[name] = newRing(a.ringSize)
	}
	if _, ok := a.files[name]; !ok && cfg.Enabled() {
		out, errW := cfg.Writers(name)
		a.files[name] = fileWriters{out: out, err: errW}
	}
}

// Collect scans r line by line until EOF, appending each line to the
// service's buffer. It is intended to run as a goroutine per stream; it
// returns when the pipe closes (process exit).
func (a *Aggregator) Collect(name, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		a.Append(name, stream, sc.Text())
	}
}

// Append adds one line to the service's stream buffer. Thread-safe.
func (a *Aggregator) Append(name, stream, line string) {
	a.mu.Lock()
	k := streamKey{name: name, stream: stream}
	a.bufs[k] = append(a.bufs[k], line)
	a.mu.Unlock()
}

// Subscribe returns a channel receiving flushed batches. Slow consumers do
// not stall the flush: batches are dropped when the channel is full.
func (a *Aggregator) Subscribe(buffer int) <-chan Batch {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Batch, buffer)
	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()
	return ch
}

// Flush swaps out all non-empty buffers and emits one batch per service
// stream. It is registered as a scheduler callback; keep it non-blocking.
func (a *Aggregator) Flush() {
	now := time.Now()
	a.mu.Lock()
	if len(a.bufs) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.bufs
	a.bufs = make(map[streamKey][]string)
	subs := a.subs
	a.mu.Unlock()

	for k, lines := range pending {
		b := Batch{Name: k.name, Stream: k.stream, Lines: lines, At: now}
		a.writeFiles(b)
		a.mu.Lock()
		if r, ok := a.rings[k.name]; ok {
			for _, l := range lines {
				r.push(k.stream + "| " + l)
			}
		}
		a.mu.Unlock()
		for _, ch := range subs {
			select {
			case ch <- b:
			default:
				// drop for slow consumer
			}
		}
		metrics.AddLogLines(k.name, k.stream, len(lines))
	}
}

func (a *Aggregator) writeFiles(b Batch) {
	a.mu.Lock()
	fw, ok := a.files[b.Name]
	a.mu.Unlock()
	if !ok {
		return
	}
	var w io.Writer
	if b.Stream == StreamStderr {
		w = fw.err
	} else {
		w = fw.out
	}
	if w == nil {
		return
	}
	for _, l := range b.Lines {
		_, _ = io.WriteString(w, l+"\n")
	}
}

// Recent returns up to n of the most recent captured lines for a service,
// oldest first. Lines are prefixed with their stream name.
func (a *Aggregator) Recent(name string, n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rings[name]
	if !ok {
		return nil
	}
	return r.last(n)
}

// Close closes all capture-file writers.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, fw := range a.files {
		if fw.out != nil {
			_ = fw.out.Close()
		}
		if fw.err != nil {
			_ = fw.err.Close()
		}
	}
	a.files = make(map[string]fileWriters)
}

// ring is a fixed-capacity line buffer.
type ring struct {
	buf   []string
	next  int
	count int
}

func newRing(n int) *ring { return &ring{buf: make([]string, n)} }

func (r *ring) push(s string) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) last(n int) []string {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
