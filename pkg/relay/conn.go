package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bevpro/voicerelay/internal/config"
	"github.com/bevpro/voicerelay/internal/observe"
	"github.com/bevpro/voicerelay/pkg/hub"
	"github.com/bevpro/voicerelay/pkg/protocol"
	"github.com/bevpro/voicerelay/pkg/resolver"
	"github.com/bevpro/voicerelay/pkg/session"
	"github.com/bevpro/voicerelay/pkg/tts"
	"github.com/bevpro/voicerelay/pkg/voice"
)

// Lane identifies which speech pipeline serves a session.
type Lane string

const (
	// LaneRealtime runs the whole turn through the realtime voice model.
	LaneRealtime Lane = "realtime"

	// LaneASR streams transcription only; replies go through the TTS chain.
	LaneASR Lane = "asr"

	// LaneDemo emits canned transcripts so the client flow can be exercised
	// without any provider keys.
	LaneDemo Lane = "demo"
)

// selectLane picks the pipeline from the configured credentials. The realtime
// lane wins when both keys are present.
func selectLane(cfg config.Config) Lane {
	switch {
	case cfg.HasRealtime():
		return LaneRealtime
	case cfg.HasASR():
		return LaneASR
	default:
		return LaneDemo
	}
}

const (
	// readTimeout bounds silence on the client socket. Clients heartbeat
	// every 20s, so three missed pings drop the connection.
	readTimeout = 60 * time.Second

	// ringFrames is how many audio frames are held while no upstream is
	// connected. At 20ms per frame this is under a second of speech.
	ringFrames = 32

	// demoFrameInterval is how many audio frames the demo lane consumes
	// between canned transcripts.
	demoFrameInterval = 40
)

// apologyLine is spoken when the command resolver fails. The command turn is
// still consumed.
const apologyLine = "Sorry, I didn't catch that. Mind trying again?"

// demoScript is the canned conversation for the keyless demo lane.
var demoScript = []string{
	"hey bev",
	"two old fashioneds please",
	"add a negroni to that",
	"thanks bev",
}

// socket is the subset of the websocket connection the relay uses. Narrowed
// to an interface so session logic is testable without a live socket.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// connDeps carries the shared collaborators a connection needs. The server
// builds one and hands it to every accepted session.
type connDeps struct {
	cfg        config.Config
	synth      tts.Provider // nil when no synthesis provider is configured
	resolver   *resolver.Client
	monitor    *hub.Hub // nil disables monitor broadcasts
	metrics    *observe.Metrics
	adapterFor func(voice.Config) (voice.Adapter, error)
	backoff    Backoff
	logger     *slog.Logger
}

type eventKind int

const (
	evTranscript eventKind = iota
	evToolCall
	evUpstreamError
	evReconnect
)

// event is one unit of work for the session actor.
type event struct {
	kind       eventKind
	transcript voice.TranscriptEvent
	tool       voice.ToolCall
	err        error
}

// Conn manages one client voice session: the socket reader, the session
// actor, and the upstream provider adapter.
//
// Two goroutines run per connection. The reader owns all socket reads and
// forwards audio upstream; the actor owns the state machine, the resolver,
// and synthesis. Adapter callbacks hand off into the actor's event channel;
// the few readers outside the actor (teardown, monitor broadcasts) snapshot
// state under stateMu.
type Conn struct {
	id   string
	lane Lane
	deps connDeps

	sock    socket
	writeMu sync.Mutex

	// stateMu guards the state machine and reconnect bookkeeping. The actor
	// goroutine does the writing; teardown and monitor broadcasts read from
	// other goroutines.
	stateMu        sync.Mutex
	machine        *session.Machine
	reconnects     int
	reconnectTimer *time.Timer

	events chan event

	adapterMu sync.Mutex
	adapter   voice.Adapter
	opening   bool
	pendingTx [][]byte // control messages queued until the upstream is ready

	pending *frameRing

	// Demo lane state, touched only by the reader goroutine.
	demoFrames int
	demoIdx    int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *slog.Logger
}

// newConn creates a session for an accepted client socket.
func newConn(sock socket, deps connDeps) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Conn{
		id:   id,
		lane: selectLane(deps.cfg),
		deps: deps,
		sock: sock,
		machine: session.New(session.Config{
			WakePhrase:         deps.cfg.WakePhrase,
			TerminationPhrases: deps.cfg.TerminationPhrases,
			ShutdownPhrases:    deps.cfg.ShutdownPhrases,
			CommandLimit:       deps.cfg.CommandLimit,
		}),
		events:  make(chan event, 16),
		pending: newFrameRing(ringFrames),
		ctx:     ctx,
		cancel:  cancel,
		logger:  deps.logger.With("session_id", id),
	}
}

// Run drives the session until the client disconnects. Blocks; call from the
// websocket handler.
func (c *Conn) Run() {
	c.deps.metrics.ActiveSessions.Add(c.ctx, 1)
	c.logger.Info("session opened", "lane", c.lane)
	c.broadcast("open", "")

	go c.actorLoop()
	c.readLoop()
	c.teardown()
}

// readLoop owns all socket reads. Binary frames are audio; text frames are
// control messages.
func (c *Conn) readLoop() {
	for {
		c.sock.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := c.sock.ReadMessage()
		if err != nil {
			c.logger.Debug("client read ended", "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// handleAudio forwards one microphone frame to the active lane. Frame gaps
// are expected; the client drops frames while playing back speech.
func (c *Conn) handleAudio(frame []byte) {
	lane := attribute.String("lane", string(c.lane))
	c.deps.metrics.AudioFrames.Add(c.ctx, 1, metric.WithAttributes(lane))
	c.deps.metrics.AudioBytes.Add(c.ctx, int64(len(frame)), metric.WithAttributes(lane))

	if c.lane == LaneDemo {
		c.demoStep()
		return
	}

	c.adapterMu.Lock()
	adapter := c.adapter
	c.adapterMu.Unlock()

	if adapter == nil || !adapter.IsConnected() {
		c.pending.push(frame)
		c.ensureUpstream()
		return
	}

	if err := adapter.SendAudio(frame); err != nil {
		c.pending.push(frame)
		c.postEvent(event{kind: evUpstreamError, err: err})
	}
}

// demoStep emits the next canned transcript once enough frames have arrived.
func (c *Conn) demoStep() {
	c.demoFrames++
	if c.demoFrames%demoFrameInterval != 0 || c.demoIdx >= len(demoScript) {
		return
	}
	text := demoScript[c.demoIdx]
	c.demoIdx++
	c.postEvent(event{kind: evTranscript, transcript: voice.TranscriptEvent{
		Text:    text,
		IsFinal: true,
	}})
}

// handleText dispatches one control message from the client.
func (c *Conn) handleText(data []byte) {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		c.logger.Debug("unparseable control message", "error", err)
		return
	}

	switch msgType {
	case protocol.TypePing:
		ping, err := protocol.ParsePing(data)
		if err != nil {
			return
		}
		c.sendJSON(protocol.NewPong(ping.T))

	case protocol.TypeSessionUpdate:
		if c.lane != LaneRealtime {
			// Realtime-only control message; tell the client so it can fall
			// back instead of waiting on provider events that never come.
			c.sendJSON(protocol.NewError("OpenAI not configured"))
			return
		}
		c.forwardUpstream(data)

	default:
		// Realtime clients speak the provider's vocabulary directly; anything
		// the relay doesn't recognize passes through untouched.
		if c.lane == LaneRealtime {
			c.forwardUpstream(data)
			return
		}
		c.logger.Debug("unhandled message", "type", msgType)
	}
}

// forwardUpstream sends a control message to the provider, queueing it until
// the upstream socket is ready.
func (c *Conn) forwardUpstream(data []byte) {
	c.adapterMu.Lock()
	adapter := c.adapter
	if adapter == nil || !adapter.IsConnected() {
		c.pendingTx = append(c.pendingTx, data)
		c.adapterMu.Unlock()
		c.ensureUpstream()
		return
	}
	c.adapterMu.Unlock()

	if err := adapter.SendRaw(data); err != nil {
		c.postEvent(event{kind: evUpstreamError, err: err})
	}
}

// ensureUpstream opens the provider connection if it isn't up already. The
// dial happens off the reader goroutine so audio keeps draining into the ring.
func (c *Conn) ensureUpstream() {
	c.adapterMu.Lock()
	if c.opening || (c.adapter != nil && c.adapter.IsConnected()) {
		c.adapterMu.Unlock()
		return
	}
	c.opening = true
	c.adapterMu.Unlock()

	go func() {
		if err := c.openUpstream(); err != nil {
			c.adapterMu.Lock()
			c.opening = false
			c.adapterMu.Unlock()
			c.postEvent(event{kind: evUpstreamError, err: err})
		}
	}()
}

// openUpstream dials the provider, installs callbacks, and flushes anything
// buffered while the connection was down.
func (c *Conn) openUpstream() error {
	adapter, err := c.deps.adapterFor(c.voiceConfig())
	if err != nil {
		return err
	}

	callbacks := voice.Callbacks{
		OnTranscript: func(ev voice.TranscriptEvent) {
			c.postEvent(event{kind: evTranscript, transcript: ev})
		},
		OnAudioOut: func(pcm16 []byte) {
			c.sendBinary(pcm16)
		},
		OnEvent: func(raw []byte) {
			// Provider-native envelope, forwarded verbatim.
			c.sendText(raw)
		},
		OnToolCall: func(call voice.ToolCall) {
			c.postEvent(event{kind: evToolCall, tool: call})
		},
		OnError: func(err error) {
			c.deps.metrics.ProviderErrors.Add(c.ctx, 1,
				metric.WithAttributes(attribute.String("lane", string(c.lane))))
			c.postEvent(event{kind: evUpstreamError, err: err})
		},
	}
	callbacks.Apply(adapter)

	if err := adapter.Start(c.ctx); err != nil {
		return err
	}

	c.adapterMu.Lock()
	c.adapter = adapter
	c.opening = false
	queued := c.pendingTx
	c.pendingTx = nil
	c.adapterMu.Unlock()

	c.logger.Info("upstream connected", "lane", c.lane)

	for _, msg := range queued {
		if err := adapter.SendRaw(msg); err != nil {
			c.logger.Warn("queued control message failed", "error", err)
			break
		}
	}
	for _, frame := range c.pending.drain() {
		if err := adapter.SendAudio(frame); err != nil {
			c.logger.Warn("buffered frame flush failed", "error", err)
			break
		}
	}
	return nil
}

// voiceConfig maps relay configuration onto the adapter config for the lane.
func (c *Conn) voiceConfig() voice.Config {
	cfg := c.deps.cfg
	if c.lane == LaneRealtime {
		vc := voice.DefaultRealtimeConfig(cfg.OpenAIKey)
		vc.SystemPrompt = assistantInstructions(cfg)
		vc.Tools = barTools()
		vc.VADThreshold = cfg.VADThreshold
		vc.VADPrefix = cfg.VADPrefix
		vc.VADSilence = cfg.VADSilence
		return vc
	}

	vc := voice.DefaultDeepgramConfig(cfg.DeepgramKey)
	vc.Model = cfg.DeepgramModel
	vc.Endpointing = cfg.Endpointing
	vc.Utterances = cfg.EnableUtterances
	return vc
}

// closeUpstream tears down the provider connection if one is up.
func (c *Conn) closeUpstream() {
	c.adapterMu.Lock()
	adapter := c.adapter
	c.adapter = nil
	c.adapterMu.Unlock()

	if adapter != nil {
		if err := adapter.Stop(); err != nil {
			c.logger.Debug("upstream stop failed", "error", err)
		}
	}
}

// postEvent hands one event to the actor, giving up if the session is gone.
func (c *Conn) postEvent(ev event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// actorLoop owns session state. All machine transitions, resolver calls, and
// synthesis happen here, one event at a time.
func (c *Conn) actorLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			switch ev.kind {
			case evTranscript:
				c.onTranscript(ev.transcript)
			case evToolCall:
				c.onToolCall(ev.tool)
			case evUpstreamError:
				c.onUpstreamError(ev.err)
			case evReconnect:
				c.onReconnect()
			}
		}
	}
}

// onTranscript relays one transcript to the client and advances the state
// machine on finals.
func (c *Conn) onTranscript(ev voice.TranscriptEvent) {
	c.deps.metrics.Transcripts.Add(c.ctx, 1,
		metric.WithAttributes(attribute.Bool("final", ev.IsFinal)))

	// A transcript proves the upstream is healthy again.
	c.stateMu.Lock()
	c.reconnects = 0
	c.stateMu.Unlock()

	c.sendJSON(protocol.NewASRPartial(ev.Text, ev.IsFinal))
	if !ev.IsFinal {
		return
	}

	decision, commands := c.advance(ev.Text)
	c.logger.Debug("transcript advanced",
		"event", decision.Event,
		"mode", decision.Mode,
		"commands", commands,
	)
	c.broadcast("transcript", ev.Text)

	// On the realtime lane the model hears the audio and answers the user
	// itself; business actions arrive as tool calls. Local transcript handling
	// is bookkeeping only: mode transitions, the command count, and the limit
	// notice the model knows nothing about.
	switch decision.Event {
	case session.EventIgnored:
		return

	case session.EventWake:
		c.broadcast("mode", "")
		if c.lane != LaneRealtime {
			c.speak(decision.Say)
		}

	case session.EventCommand:
		if c.lane == LaneRealtime {
			c.deps.metrics.Commands.Add(c.ctx, 1)
			return
		}
		c.resolveAndSpeak(decision.Resolve)

	case session.EventSleep:
		c.broadcast("mode", "")
		if c.lane != LaneRealtime {
			c.speak(decision.Say)
		}
		if c.lane == LaneASR {
			// The transcription socket idles while wake-listening; the next
			// audio frame reopens it.
			c.closeUpstream()
		}

	case session.EventShutdown:
		c.broadcast("mode", "")
		c.speak(decision.Say)
		c.teardown()

	case session.EventLimit:
		c.broadcast("mode", "")
		if c.lane == LaneRealtime {
			c.deps.metrics.Commands.Add(c.ctx, 1)
		} else {
			c.resolveAndSpeak(decision.Resolve)
		}
		c.speak(decision.Say)
		c.teardown()
	}
}

// advance runs one finalized transcript through the state machine and returns
// the decision with the post-transition command count.
func (c *Conn) advance(text string) (session.Decision, int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.machine.Advance(text), c.machine.Commands()
}

// sessionState snapshots the machine for readers outside the actor goroutine.
func (c *Conn) sessionState() (session.Mode, int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.machine.Mode(), c.machine.Commands()
}

// resolveAndSpeak sends one command to the resolver and speaks the reply. A
// resolver failure still consumes the command turn; the user hears an apology
// instead of the reply.
func (c *Conn) resolveAndSpeak(text string) {
	c.deps.metrics.Commands.Add(c.ctx, 1)

	start := time.Now()
	result, err := c.deps.resolver.Resolve(c.ctx, resolver.Request{
		Text:      text,
		SessionID: c.id,
		AgentID:   c.deps.cfg.AgentName,
	})
	observe.RecordDuration(c.ctx, c.deps.metrics.ResolverDuration, start,
		attribute.String("status", statusOf(err)))

	if err != nil {
		c.logger.Warn("resolver failed", "error", err)
		c.speak(apologyLine)
		return
	}
	c.speak(result.Say)
}

// onToolCall resolves a realtime tool invocation and returns the output so
// the model can continue the turn.
func (c *Conn) onToolCall(call voice.ToolCall) {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}

	start := time.Now()
	result, err := c.deps.resolver.Resolve(c.ctx, resolver.Request{
		Text:      call.Name + " " + string(args),
		SessionID: c.id,
		AgentID:   c.deps.cfg.AgentName,
	})
	observe.RecordDuration(c.ctx, c.deps.metrics.ResolverDuration, start,
		attribute.String("status", statusOf(err)))

	output := `{"error":"resolver unavailable"}`
	if err == nil {
		if len(result.Data) > 0 {
			output = string(result.Data)
		} else {
			output = result.Say
		}
	}

	c.adapterMu.Lock()
	adapter := c.adapter
	c.adapterMu.Unlock()
	if adapter == nil {
		return
	}
	if err := adapter.SubmitToolResult(call.ID, output); err != nil {
		c.logger.Warn("tool result submit failed", "tool", call.Name, "error", err)
	}
}

// speak synthesizes one utterance and ships it to the client for playback.
func (c *Conn) speak(text string) {
	if text == "" {
		return
	}
	if c.deps.synth == nil {
		c.logger.Debug("no synthesis provider, skipping utterance", "chars", len(text))
		return
	}

	start := time.Now()
	result, err := c.deps.synth.Synthesize(c.ctx, text)
	if err != nil {
		observe.RecordDuration(c.ctx, c.deps.metrics.SynthesisDuration, start,
			attribute.String("status", "error"))
		c.logger.Error("synthesis failed", "error", err)
		c.sendJSON(protocol.NewError("speech synthesis unavailable"))
		return
	}

	observe.RecordDuration(c.ctx, c.deps.metrics.SynthesisDuration, start,
		attribute.String("provider", result.Provider),
		attribute.String("status", "ok"))
	if result.Fallback {
		c.deps.metrics.SynthesisFallbacks.Add(c.ctx, 1)
	}

	c.sendJSON(protocol.NewSpeak(result.Audio, result.Format, result.Provider))
}

// onUpstreamError schedules one delayed reconnect. Only one reconnect is ever
// pending; further errors while the timer runs are logged and dropped.
func (c *Conn) onUpstreamError(err error) {
	c.logger.Warn("upstream error", "lane", c.lane, "error", err)

	if c.lane == LaneDemo {
		return
	}

	c.stateMu.Lock()
	if c.machine.Mode() == session.ModeShutdown || c.reconnectTimer != nil {
		c.stateMu.Unlock()
		return
	}
	c.reconnects++
	attempt := c.reconnects
	c.stateMu.Unlock()

	delay, ok := c.deps.backoff.Next(attempt)
	if !ok {
		c.giveUpUpstream(attempt - 1)
		return
	}

	c.deps.metrics.UpstreamReconnects.Add(c.ctx, 1)
	c.logger.Info("scheduling upstream reconnect", "attempt", attempt, "delay", delay)
	c.stateMu.Lock()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.postEvent(event{kind: evReconnect})
	})
	c.stateMu.Unlock()
}

// giveUpUpstream handles exhausted reconnect attempts. The provider socket is
// closed but the client session stays open: the user hears an error, the
// conversation drops back to wake-listening, and the next audio frame starts
// a fresh dial with a fresh backoff budget.
func (c *Conn) giveUpUpstream(attempts int) {
	c.logger.Error("upstream reconnect attempts exhausted", "attempts", attempts)
	c.sendJSON(protocol.NewError("speech provider unavailable"))
	c.closeUpstream()

	c.stateMu.Lock()
	c.reconnects = 0
	c.machine.Sleep()
	c.stateMu.Unlock()
	c.broadcast("mode", "")
}

// onReconnect replaces the upstream connection after a backoff delay. The
// open goes through ensureUpstream so a concurrent audio-driven open can't
// race it; a failed attempt reports back as another upstream error.
func (c *Conn) onReconnect() {
	c.stateMu.Lock()
	c.reconnectTimer = nil
	c.stateMu.Unlock()
	c.closeUpstream()
	c.ensureUpstream()
}

// teardown runs the session cleanup exactly once: cancel in-flight work, close
// the upstream and the client socket, and unregister the session. Error paths
// and intentional shutdown share this routine.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.stateMu.Lock()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}
		c.stateMu.Unlock()
		c.closeUpstream()
		c.sock.Close()

		c.deps.metrics.ActiveSessions.Add(context.Background(), -1)
		c.broadcast("close", "")
		_, commands := c.sessionState()
		c.logger.Info("session closed", "commands", commands)
	})
}

// broadcast publishes a session lifecycle event to monitor connections.
func (c *Conn) broadcast(kind, text string) {
	if c.deps.monitor == nil {
		return
	}
	mode, commands := c.sessionState()
	ev := protocol.NewSessionEvent(c.id, kind)
	ev.Mode = string(mode)
	ev.Text = text
	ev.Commands = commands
	if err := c.deps.monitor.BroadcastJSON(ev); err != nil {
		c.logger.Debug("monitor broadcast failed", "error", err)
	}
}

// sendJSON writes one control message to the client.
func (c *Conn) sendJSON(v interface{}) {
	data, err := protocol.Marshal(v)
	if err != nil {
		c.logger.Error("marshal failed", "error", err)
		return
	}
	c.sendText(data)
}

func (c *Conn) sendText(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("client write failed", "error", err)
	}
}

func (c *Conn) sendBinary(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.logger.Debug("client write failed", "error", err)
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// frameRing buffers audio frames while no upstream is connected. On overflow
// the oldest frame is dropped; the pipeline tolerates gaps.
type frameRing struct {
	mu     sync.Mutex
	frames [][]byte
	max    int
}

func newFrameRing(max int) *frameRing {
	return &frameRing{max: max}
}

func (r *frameRing) push(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= r.max {
		r.frames = r.frames[1:]
	}
	r.frames = append(r.frames, frame)
}

// drain returns the buffered frames in arrival order and empties the ring.
func (r *frameRing) drain() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := r.frames
	r.frames = nil
	return frames
}

func (r *frameRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
