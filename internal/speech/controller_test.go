package speech_test

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/MegaGrindStone/eightb-chat/internal/models"
	"github.com/MegaGrindStone/eightb-chat/internal/speech"
	"github.com/stretchr/testify/require"
)

type fakeSpeaker struct {
	speaking bool
	spoken   []string
	langs    []string
	cancels  int
}

type fakeDisplay struct {
	states []models.SpeechState
}

type fakePlayer struct {
	played   []string
	canceled int
}

func (s *fakeSpeaker) Speak(_ context.Context, text, lang string) error {
	s.spoken = append(s.spoken, text)
	s.langs = append(s.langs, lang)
	s.speaking = true
	return nil
}

func (s *fakeSpeaker) Cancel() {
	s.cancels++
	s.speaking = false
}

func (s *fakeSpeaker) Speaking() bool { return s.speaking }

func (d *fakeDisplay) ShowSpeechState(state models.SpeechState) { d.states = append(d.states, state) }

func (p *fakePlayer) PlayUtterance(text, _ string) { p.played = append(p.played, text) }

func (p *fakePlayer) CancelUtterance() { p.canceled++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpeakCancelsCurrentUtterance(t *testing.T) {
	s := &fakeSpeaker{}
	c := speech.NewController(s, "", nil, discardLogger())

	c.Speak("first")
	require.Equal(t, 0, s.cancels)

	c.Speak("second")
	require.Equal(t, 1, s.cancels)
	require.Equal(t, []string{"first", "second"}, s.spoken)
	require.Equal(t, []string{speech.DefaultLanguage, speech.DefaultLanguage}, s.langs)
}

func TestSpeakIgnoresEmptyTextAndMissingSpeaker(t *testing.T) {
	s := &fakeSpeaker{}
	c := speech.NewController(s, "en-GB", nil, discardLogger())
	c.Speak("")
	require.Empty(t, s.spoken)

	none := speech.NewController(nil, "", nil, discardLogger())
	none.Speak("hello")
	none.Cancel()
	require.False(t, none.Available())
}

func TestToggleAutoSpeakTwiceRestoresState(t *testing.T) {
	d := &fakeDisplay{}
	c := speech.NewController(&fakeSpeaker{}, "", d, discardLogger())
	require.False(t, c.AutoSpeak())

	require.True(t, c.ToggleAutoSpeak())
	require.False(t, c.ToggleAutoSpeak())

	require.False(t, c.AutoSpeak())
	require.Len(t, d.states, 2)
	require.Equal(t, c.AutoSpeak(), d.states[len(d.states)-1].AutoSpeak)
}

func TestToggleOffCancelsSpeech(t *testing.T) {
	s := &fakeSpeaker{}
	c := speech.NewController(s, "", nil, discardLogger())

	c.ToggleAutoSpeak()
	c.Speak("long reply")
	require.True(t, s.Speaking())

	c.ToggleAutoSpeak()
	require.False(t, s.Speaking())
	require.Equal(t, 1, s.cancels)
}

func TestSetAutoSpeakFromCheckbox(t *testing.T) {
	d := &fakeDisplay{}
	c := speech.NewController(&fakeSpeaker{}, "", d, discardLogger())

	require.False(t, c.SetAutoSpeak(false))
	require.False(t, c.AutoSpeak())

	require.True(t, c.SetAutoSpeak(true))
	require.True(t, c.SetAutoSpeak(true))
	require.True(t, c.AutoSpeak())

	for _, st := range d.states {
		require.True(t, st.Available)
	}
	require.True(t, d.states[len(d.states)-1].AutoSpeak)
}

func TestBrowserSpeaker(t *testing.T) {
	p := &fakePlayer{}
	b := speech.NewBrowserSpeaker(p)
	c := speech.NewController(b, "", nil, discardLogger())

	c.Speak("one")
	require.True(t, b.Speaking())

	c.Speak("two")
	require.Equal(t, []string{"one", "two"}, p.played)
	require.Equal(t, 1, p.canceled)

	c.Finished()
	require.False(t, b.Speaking())

	c.Cancel()
	require.Equal(t, 1, p.canceled, "nothing to cancel once the page reported the end")
}

func TestFinishedWithoutCompletionAwareSpeaker(t *testing.T) {
	s := &fakeSpeaker{}
	c := speech.NewController(s, "", nil, discardLogger())

	c.Speak("hello")
	c.Finished()
	require.True(t, s.Speaking(), "speakers that track their own completion are left alone")

	speech.NewController(nil, "", nil, discardLogger()).Finished()
}

func TestCommandSpeakerCancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	s := speech.NewCommandSpeaker("sleep", nil, discardLogger())
	require.False(t, s.Speaking())

	require.NoError(t, s.Speak(context.Background(), "30", "en-US"))
	require.True(t, s.Speaking())

	s.Cancel()
	require.False(t, s.Speaking())
}

func TestCommandSpeakerFinishes(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	s := speech.NewCommandSpeaker("true", []string{"{lang}"}, discardLogger())
	require.NoError(t, s.Speak(context.Background(), "hello", "en-US"))

	require.Eventually(t, func() bool { return !s.Speaking() }, 5*time.Second, 10*time.Millisecond)
}

func TestCommandSpeakerMissingProgram(t *testing.T) {
	s := speech.NewCommandSpeaker("definitely-not-a-tts-program", nil, discardLogger())
	require.Error(t, s.Speak(context.Background(), "hello", "en-US"))
	require.False(t, s.Speaking())
}
