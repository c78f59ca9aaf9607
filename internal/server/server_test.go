package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/config"
	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/recite"
	"github.com/MrWong99/tilawa/internal/server"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	sttmock "github.com/MrWong99/tilawa/pkg/provider/stt/mock"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	trmock "github.com/MrWong99/tilawa/pkg/provider/transcribe/mock"
	"github.com/MrWong99/tilawa/pkg/score"
	scoremock "github.com/MrWong99/tilawa/pkg/score/mock"
)

const ikhlas = "قل هو الله احد"

type fixture struct {
	srv      *httptest.Server
	sessions *app.SessionManager
	store    *scoremock.Store
}

func newFixture(t *testing.T, rec stt.Provider, tr transcribe.Transcriber, store *scoremock.Store) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	smc := app.SessionManagerConfig{
		Recognizer:  rec,
		Transcriber: tr,
		Recitation:  cfg.Recitation,
		Exam:        cfg.Exam,
	}
	opts := []server.Option{server.WithTranscriber(tr), server.WithHealth(health.New())}
	if store != nil {
		smc.Store = store
		opts = append(opts, server.WithStore(store))
	}
	sm := app.NewSessionManager(smc)
	srv := httptest.NewServer(server.New(sm, opts...).Handler())
	t.Cleanup(func() {
		_ = sm.StopAll(context.Background())
		srv.Close()
	})
	return &fixture{srv: srv, sessions: sm, store: store}
}

type event struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	Pos       *int               `json:"pos"`
	Verdict   string             `json:"verdict"`
	Accuracy  *int               `json:"accuracy"`
	Request   string             `json:"request"`
	Error     string             `json:"error"`
	State     *json.RawMessage   `json:"state"`
	Result    *recite.ExamResult `json:"result"`
	Exam      *struct {
		State  string             `json:"state"`
		Result *recite.ExamResult `json:"result"`
		Error  string             `json:"error"`
	} `json:"exam"`
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id string
}

func (f *fixture) dial(t *testing.T) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/session"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	c := &client{t: t, ws: ws}
	c.id = c.next("session").SessionID
	if c.id == "" {
		t.Fatal("no session id")
	}
	return c
}

func (c *client) send(msg map[string]any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		c.t.Fatalf("write %v: %v", msg, err)
	}
}

func (c *client) audio(pcm []byte) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		c.t.Fatalf("write audio: %v", err)
	}
}

// next reads events until one matches typ and pred.
func (c *client) next(typ string, pred ...func(event) bool) event {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var ev event
		if err := wsjson.Read(ctx, c.ws, &ev); err != nil {
			c.t.Fatalf("waiting for %q: %v", typ, err)
		}
		if ev.Type != typ {
			continue
		}
		if len(pred) > 0 && !pred[0](ev) {
			continue
		}
		return ev
	}
}

func listening(ev event) bool {
	return ev.State != nil && strings.Contains(string(*ev.State), `"listening":true`)
}

func TestSession_SoloPass(t *testing.T) {
	t.Parallel()

	handle := sttmock.NewSession()
	store := &scoremock.Store{}
	f := newFixture(t, &sttmock.Provider{Session: handle}, &trmock.Transcriber{}, store)
	c := f.dial(t)

	c.send(map[string]any{"type": "load", "key": "112:1", "ayahs": []string{ikhlas}})
	c.send(map[string]any{"type": "mode", "mode": "solo"})
	c.next("state", listening)

	handle.EmitFinal("قل هو الله احد")

	for i := range 4 {
		ev := c.next("verdict")
		if ev.Pos == nil || *ev.Pos != i || ev.Verdict != "correct" {
			t.Errorf("verdict %d = %+v", i, ev)
		}
	}
	done := c.next("completed")
	if done.Accuracy == nil || *done.Accuracy != 100 {
		t.Errorf("completed = %+v", done)
	}

	select {
	case <-store.Recorded():
	case <-time.After(3 * time.Second):
		t.Fatal("score not recorded")
	}
	s, err := store.Recent(context.Background(), "112:1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 1 || s[0].Accuracy != 100 || s[0].Mode != "solo" {
		t.Errorf("scores = %+v", s)
	}
}

func TestSession_CommandErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, nil)
	c := f.dial(t)

	tests := []struct {
		msg  map[string]any
		want string
	}{
		{msg: map[string]any{"type": "jump", "position": 2}, want: "jump"},
		{msg: map[string]any{"type": "mode", "mode": "karaoke"}, want: "mode"},
		{msg: map[string]any{"type": "load"}, want: "load"},
		{msg: map[string]any{"type": "dance"}, want: "dance"},
		{msg: map[string]any{"type": "exam.stop"}, want: "exam.stop"},
	}
	for _, tt := range tests {
		c.send(tt.msg)
		ev := c.next("error")
		if ev.Request != tt.want || ev.Error == "" {
			t.Errorf("%v: error event = %+v", tt.msg, ev)
		}
	}
}

func TestSession_Exam(t *testing.T) {
	t.Parallel()

	tr := &trmock.Transcriber{Text: "قل الله احد"}
	store := &scoremock.Store{}
	f := newFixture(t, &sttmock.Provider{}, tr, store)
	c := f.dial(t)

	c.send(map[string]any{"type": "load", "key": "112:1", "ayahs": []string{ikhlas}})
	c.send(map[string]any{"type": "exam.start"})
	c.next("exam.state", func(ev event) bool { return ev.Exam.State == "recording" })

	c.audio(make([]byte, 3200))
	c.send(map[string]any{"type": "exam.stop"})
	ev := c.next("exam.state", func(ev event) bool { return ev.Exam.State == "results" })

	res := ev.Exam.Result
	if res == nil || res.TotalExpected != 4 || res.TotalCorrect != 3 || res.Accuracy != 75 {
		t.Fatalf("result = %+v", res)
	}
	if got := res.Count(recite.StateMissing); got != 1 {
		t.Errorf("missing = %d, want 1", got)
	}
	if n := tr.CallCount(); n != 1 {
		t.Errorf("transcribe calls = %d, want 1", n)
	}
}

func TestSession_FallbackGraded(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Provider{StartStreamErr: errors.New("recognizer unreachable")}
	f := newFixture(t, rec, &trmock.Transcriber{Text: ikhlas}, nil)
	c := f.dial(t)

	c.send(map[string]any{"type": "load", "key": "112:1", "ayahs": []string{ikhlas}})
	c.send(map[string]any{"type": "mode", "mode": "solo"})
	fb := c.next("fallback")
	if fb.Pos == nil || *fb.Pos != 0 {
		t.Errorf("fallback = %+v", fb)
	}

	c.audio(make([]byte, 3200))
	c.send(map[string]any{"type": "mode", "mode": "off"})

	res := c.next("fallback.result")
	if res.Result == nil || res.Result.Accuracy != 100 || res.Result.TotalExpected != 4 {
		t.Errorf("fallback result = %+v", res.Result)
	}
}

func TestSession_FallbackGradedAgainstCapturedPassage(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Provider{StartStreamErr: errors.New("recognizer unreachable")}
	f := newFixture(t, rec, &trmock.Transcriber{Text: ikhlas}, nil)
	c := f.dial(t)

	c.send(map[string]any{"type": "load", "key": "112:1", "ayahs": []string{ikhlas}})
	c.send(map[string]any{"type": "mode", "mode": "solo"})
	c.next("fallback")
	c.audio(make([]byte, 3200))

	// Loading another passage stops the capture; the clip still belongs to
	// 112:1.
	c.send(map[string]any{"type": "load", "key": "1:2", "ayahs": []string{"الحمد لله رب العالمين الرحمن الرحيم"}})

	res := c.next("fallback.result")
	if res.Result == nil || res.Result.TotalExpected != 4 || res.Result.Accuracy != 100 {
		t.Errorf("fallback result = %+v, want 112:1 graded in full", res.Result)
	}
}

func TestSession_StopEndsConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, nil)
	c := f.dial(t)

	if err := f.sessions.Stop(c.id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := c.ws.Read(ctx)
		if err == nil {
			continue
		}
		if st := websocket.CloseStatus(err); st != websocket.StatusGoingAway {
			t.Errorf("close status = %v (%v), want going away", st, err)
		}
		return
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, nil)

	tests := []struct {
		name string
		body string
		code int
		acc  int
	}{
		{name: "graded", body: `{"expected":"قل هو الله احد","spoken":"قل هو الله احد"}`, code: http.StatusOK, acc: 100},
		{name: "nothing spoken", body: `{"expected":"قل هو الله احد","spoken":""}`, code: http.StatusOK, acc: 0},
		{name: "missing expected", body: `{"spoken":"قل"}`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"expected":"x","extra":1}`, code: http.StatusBadRequest},
		{name: "not json", body: `nope`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Post(f.srv.URL+"/v1/compare", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var res recite.ExamResult
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if res.Accuracy != tt.acc {
				t.Errorf("accuracy = %d, want %d", res.Accuracy, tt.acc)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &scoremock.Store{
		Scores: []score.Score{
			{SessionKey: "112:1", Mode: "solo", Accuracy: 80, RecordedAt: now.Add(-time.Hour)},
			{SessionKey: "1:1", Mode: "solo", Accuracy: 90, RecordedAt: now},
		},
		Exams: []score.ExamRecord{
			{SessionKey: "112:1", Alerts: []recite.MakharijAlert{{SpokenLetter: "س", ExpectedLetter: "ص", Count: 2}}},
		},
	}
	f := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, store)

	get := func(path string, v any) int {
		t.Helper()
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatal(err)
			}
		}
		return resp.StatusCode
	}

	var scores []score.Score
	if code := get("/v1/scores?key=112:1", &scores); code != http.StatusOK {
		t.Fatalf("scores status = %d", code)
	}
	if len(scores) != 1 || scores[0].Accuracy != 80 {
		t.Errorf("scores = %+v", scores)
	}

	scores = nil
	get("/v1/scores?limit=1", &scores)
	if len(scores) != 1 || scores[0].SessionKey != "1:1" {
		t.Errorf("limited scores = %+v", scores)
	}

	var conf []score.ConfusionTotal
	get("/v1/confusions", &conf)
	if len(conf) != 1 || conf[0].Count != 2 || conf[0].Expected != "ص" {
		t.Errorf("confusions = %+v", conf)
	}

	if code := get("/v1/scores?limit=-3", nil); code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", code)
	}

	noStore := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, nil)
	resp, err := http.Get(noStore.srv.URL + "/v1/scores")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("no store status = %d", resp.StatusCode)
	}
}

func TestSessionsAndHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &sttmock.Provider{}, &trmock.Transcriber{}, nil)
	c := f.dial(t)

	resp, err := http.Get(f.srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var list []app.SessionInfo
	err = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != c.id {
		t.Errorf("sessions = %+v", list)
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}
