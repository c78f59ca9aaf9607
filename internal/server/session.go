package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/coach"
	"github.com/MrWong99/tilawa/internal/exam"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/pkg/audio"
)

const outBuffer = 256

var errSessionEnded = errors.New("server: session ended")

// conn is one WebSocket client bound to one app session.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	sess *app.Session
	log  *slog.Logger
	out  chan serverEvent
	done <-chan struct{}

	mu      sync.Mutex
	passage coach.Passage
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		srv:  s,
		ws:   ws,
		out:  make(chan serverEvent, outBuffer),
		done: ctx.Done(),
	}
	sess, err := s.sessions.Start(ctx, app.StartOptions{OnExamChange: c.examChanged})
	if err != nil {
		observe.Logger(ctx).Error("could not start session", "err", err)
		ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	c.sess = sess
	ctx = observe.WithSession(ctx, sess.ID)
	c.log = observe.Logger(ctx)
	defer func() {
		cancel()
		if err := s.sessions.Stop(sess.ID); err != nil && !errors.Is(err, app.ErrUnknownSession) {
			c.log.Warn("stop session", "err", err)
		}
	}()

	c.send(serverEvent{Type: evSession, SessionID: sess.ID})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.forwardCoach(gctx, g) })

	err = g.Wait()
	switch {
	case errors.Is(err, errSessionEnded):
		c.log.Debug("session ended by server")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		c.log.Debug("client closed connection")
	case err != nil && !errors.Is(err, context.Canceled):
		c.log.Info("connection ended", "err", err)
	}
}

// send queues ev for the writer. It gives up once the connection ends.
func (c *conn) send(ev serverEvent) {
	select {
	case c.out <- ev:
	case <-c.done:
	}
}

func (c *conn) examChanged(snap exam.Snapshot) {
	c.send(serverEvent{Type: evExamState, Exam: &snap})
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.out:
			if err := wsjson.Write(ctx, c.ws, ev); err != nil {
				return fmt.Errorf("server: write: %w", err)
			}
		}
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			c.pushAudio(data)
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(errorEvent("", fmt.Errorf("invalid message: %w", err)))
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.send(errorEvent(msg.Type, err))
		}
	}
}

func (c *conn) pushAudio(pcm []byte) {
	if c.sess.Pipe == nil {
		return
	}
	c.sess.Pipe.Push(pcm)
}

// forwardCoach relays coach events until the coach loop exits, then closes
// the connection with StatusGoingAway. Fallback clips are graded in the
// background.
func (c *conn) forwardCoach(ctx context.Context, g *errgroup.Group) error {
	events := c.sess.Coach.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Closing here, before the group cancels the reader, lets the
				// close handshake complete.
				c.ws.Close(websocket.StatusGoingAway, "session ended")
				return errSessionEnded
			}
			if ev.Kind == coach.EventFallbackClip {
				g.Go(func() error {
					c.gradeFallback(ctx, ev)
					return nil
				})
				continue
			}
			if out, ok := fromCoach(ev); ok {
				c.send(out)
			}
		}
	}
}

// gradeFallback transcribes audio captured while the recognizer was down and
// grades it against the words the clip carries, which belong to the passage
// loaded when capture began.
func (c *conn) gradeFallback(ctx context.Context, ev coach.Event) {
	if c.srv.transcriber == nil {
		c.send(errorEvent(evFallbackResult, errors.New("no transcriber configured")))
		return
	}
	if len(ev.Expected) == 0 {
		return
	}

	tctx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()
	text, err := c.srv.transcriber.Transcribe(tctx, ev.Clip)
	if err != nil {
		c.log.Warn("fallback transcription failed", "pos", ev.Pos, "audio", ev.Clip.Duration(), "err", err)
		c.send(errorEvent(evFallbackResult, err))
		return
	}
	res := c.srv.aligner.Analyze(strings.Join(recite.Texts(ev.Expected), " "), text)
	pos := ev.Pos
	c.send(serverEvent{Type: evFallbackResult, Pos: &pos, Result: &res})
}

func (c *conn) handle(ctx context.Context, msg clientMessage) error {
	cs := c.sess.Coach
	switch msg.Type {
	case msgLoad:
		if len(msg.Ayahs) == 0 {
			return errors.New("load requires ayahs")
		}
		key := msg.Key
		if key == "" {
			key = uuid.NewString()
		}
		p := coach.NewPassage(key, msg.Ayahs, msg.Start)
		if err := cs.Load(ctx, p); err != nil {
			return err
		}
		c.mu.Lock()
		c.passage = p
		c.mu.Unlock()
		c.sess.Exam.SetPassageKey(key)
		return nil
	case msgMode:
		mode, err := coach.ParseMode(msg.Mode)
		if err != nil {
			return err
		}
		return cs.SetMode(ctx, mode)
	case msgTrigger:
		return cs.Trigger(ctx)
	case msgJump:
		return cs.Jump(ctx, msg.Position)
	case msgRestart:
		return cs.Restart(ctx)
	case msgSnapshot:
		snap, err := cs.Snapshot(ctx)
		if err != nil {
			return err
		}
		c.send(serverEvent{Type: evSnapshot, State: &snap})
		return nil
	case msgFormat:
		if c.sess.Pipe == nil {
			return errors.New("server captures from a local device")
		}
		return c.sess.Pipe.SetSource(audio.Format{SampleRate: msg.SampleRate, Channels: msg.Channels})
	case msgExamStart:
		return c.sess.Exam.Start(ctx)
	case msgExamStop:
		expected := msg.Expected
		if expected == "" {
			expected = c.passageText()
		}
		if expected == "" {
			return errors.New("exam.stop requires expected text or a loaded passage")
		}
		return c.sess.Exam.Stop(ctx, expected)
	case msgExamClear:
		c.sess.Exam.Clear()
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *conn) passageText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(recite.Texts(c.passage.Words), " ")
}
