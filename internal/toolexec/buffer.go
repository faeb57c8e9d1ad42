package toolexec

import "strings"

// maxBufferLines and maxBufferChars bound the per-invocation line ring
// that backs UI tail views; both are enforced after every push, whichever
// binds first.
const (
	maxBufferLines = 5000
	maxBufferChars = 80000
)

// OutputBuffer is the per-ToolInvocation line ring described in spec
// §4.3. It is owned exclusively by the state owner; producer goroutines
// never touch it directly, they only send ToolOutput events that get
// fed into AppendChunk by the consumer loop.
type OutputBuffer struct {
	lines     []string
	charCount int
	partial   string
	truncated bool
}

// NewOutputBuffer returns an empty buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{}
}

// AppendChunk splits chunk on '\n', keeping any trailing unterminated
// fragment in output_partial. Each completed line has its trailing '\r'
// stripped before being pushed to the FIFO.
func (b *OutputBuffer) AppendChunk(chunk string) {
	data := b.partial + chunk
	b.partial = ""

	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			b.partial = data
			return
		}
		line := strings.TrimSuffix(data[:idx], "\r")
		b.pushLine(line)
		data = data[idx+1:]
	}
}

func (b *OutputBuffer) pushLine(line string) {
	b.lines = append(b.lines, line)
	b.charCount += len(line)
	b.evict()
}

func (b *OutputBuffer) evict() {
	for len(b.lines) > maxBufferLines || b.charCount > maxBufferChars {
		if len(b.lines) == 0 {
			break
		}
		b.truncated = true
		b.charCount -= len(b.lines[0])
		b.lines = b.lines[1:]
	}
}

// SetOutput clears the buffer and re-appends str as if freshly received.
func (b *OutputBuffer) SetOutput(str string) {
	b.lines = nil
	b.charCount = 0
	b.partial = ""
	b.truncated = false
	b.AppendChunk(str)
}

// Complete flushes any non-empty output_partial as a final line. Callers
// should invoke this exactly once, when the invocation finishes.
func (b *OutputBuffer) Complete() {
	if b.partial != "" {
		b.pushLine(strings.TrimSuffix(b.partial, "\r"))
		b.partial = ""
	}
}

// Tail returns the last max lines plus how many lines were not returned.
func (b *OutputBuffer) Tail(max int) (lines []string, remaining int) {
	total := len(b.lines)
	if max >= total {
		return append([]string(nil), b.lines...), 0
	}
	start := total - max
	return append([]string(nil), b.lines[start:]...), start
}

// TotalLines returns the number of completed lines, plus one if there is
// a non-empty unterminated partial line pending.
func (b *OutputBuffer) TotalLines() int {
	n := len(b.lines)
	if b.partial != "" {
		n++
	}
	return n
}

// Truncated reports whether the FIFO has ever evicted a line.
func (b *OutputBuffer) Truncated() bool { return b.truncated }
