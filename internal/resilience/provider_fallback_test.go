package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/tilawa/internal/resilience"
	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	sttmock "github.com/MrWong99/tilawa/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/tilawa/pkg/provider/transcribe/mock"
)

func TestRecognizerFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: errors.New("dial tcp: refused")}
	secondary := &sttmock.Provider{}
	fb := resilience.NewRecognizerFallback(primary, "deepgram", resilience.FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	cfg := stt.StreamConfig{SampleRate: 16000, Language: "ar"}
	h, err := fb.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = primary %d, secondary %d; want 1 each", len(primary.Calls()), len(secondary.Calls()))
	}
	if got := secondary.Calls()[0].Cfg; got.Language != "ar" {
		t.Errorf("secondary config = %+v", got)
	}
	if h != secondary.Last() {
		t.Error("handle does not come from the secondary recognizer")
	}
}

func TestRecognizerFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := resilience.NewRecognizerFallback(&sttmock.Provider{StartStreamErr: errors.New("down")}, "deepgram", resilience.FallbackConfig{})
	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{Data: make([]byte, 320), Format: audio.Format{SampleRate: 16000, Channels: 1}, Encoding: audio.EncodingPCM16}

	tests := []struct {
		name          string
		primary       *trmock.Transcriber
		want          string
		wantErr       error
		wantSecondary int
	}{
		{
			name:    "primary answers",
			primary: &trmock.Transcriber{Text: "قل هو الله احد"},
			want:    "قل هو الله احد",
		},
		{
			name:          "primary fails over",
			primary:       &trmock.Transcriber{Err: errors.New("500")},
			want:          "from secondary",
			wantSecondary: 1,
		},
		{
			name:    "no speech is final",
			primary: &trmock.Transcriber{Err: stt.ErrNoSpeech},
			wantErr: stt.ErrNoSpeech,
		},
		{
			name:    "cancellation is final",
			primary: &trmock.Transcriber{Err: context.Canceled},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			secondary := &trmock.Transcriber{Text: "from secondary"}
			fb := resilience.NewTranscriberFallback(tt.primary, "openai", resilience.FallbackConfig{})
			fb.AddFallback("whisper", secondary)

			got, err := fb.Transcribe(context.Background(), clip)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Transcribe = %q, %v; want %q", got, err, tt.want)
			}
			if n := secondary.CallCount(); n != tt.wantSecondary {
				t.Errorf("secondary calls = %d, want %d", n, tt.wantSecondary)
			}
			if names := fb.Group().Names(); len(names) != 2 || names[0] != "openai" {
				t.Errorf("names = %v", names)
			}
		})
	}
}
