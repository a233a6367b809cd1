package voice

import (
	"sync"
	"time"
)

// Metrics tracks latency for one conversation turn. All durations are
// measured from the moment the provider detected end of speech.
type Metrics struct {
	// Timestamps for key events
	SpeechEndTime  time.Time // When the provider detected end of speech
	TranscriptTime time.Time // When the final transcript arrived
	FirstAudioTime time.Time // When the first model audio chunk arrived
	TurnDoneTime   time.Time // When the turn fully completed

	// Computed latencies (from speech end)
	ASRLatency    time.Duration // Time to final transcript
	FirstAudioLag time.Duration // Time to first model audio chunk
	TotalLatency  time.Duration // Total end-to-end latency

	// Counts for this turn
	FramesIn  int // Audio frames sent upstream
	ChunksOut int // Model audio chunks received
}

// MetricsCollector collects per-turn latency metrics.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // Recent turns for averaging
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
	}
}

// MarkSpeechEnd records when the user stopped speaking.
// This is the reference point for all latency measurements.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{}
	m.current.SpeechEndTime = time.Now()
}

// MarkTranscript records when the final transcript arrived.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.ASRLatency = m.current.TranscriptTime.Sub(m.current.SpeechEndTime)
	}
}

// MarkFirstAudio records when the first model audio chunk arrived.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.SpeechEndTime.IsZero() {
			m.current.FirstAudioLag = m.current.FirstAudioTime.Sub(m.current.SpeechEndTime)
		}
	}
}

// MarkTurnDone records when the turn fully completed and archives it.
func (m *MetricsCollector) MarkTurnDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TurnDoneTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.TotalLatency = m.current.TurnDoneTime.Sub(m.current.SpeechEndTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
}

// IncrementFramesIn increments the count of audio frames sent upstream.
func (m *MetricsCollector) IncrementFramesIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.FramesIn++
}

// IncrementChunksOut increments the count of model audio chunks received.
func (m *MetricsCollector) IncrementChunksOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ChunksOut++
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ASRLatency += h.ASRLatency
		avg.FirstAudioLag += h.FirstAudioLag
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.ASRLatency /= n
	avg.FirstAudioLag /= n
	avg.TotalLatency /= n

	return avg
}

// FormatLatency returns a formatted string of current latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.FirstAudioLag) + " AUDIO | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
