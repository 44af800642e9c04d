package session

// State is the per-daemon session: the accumulated text and the two UI flags.
// Paused is only ever true while Recording is true.
type State struct {
	Transcription string `json:"transcription"`
	Recording     bool   `json:"is_recording"`
	Paused        bool   `json:"is_paused"`
}

func (s State) Start() State {
	s.Recording = true
	s.Paused = false
	return s
}

func (s State) CanPause() bool  { return s.Recording && !s.Paused }
func (s State) CanResume() bool { return s.Recording && s.Paused }

// Pause reports false and leaves s untouched unless a recording is running.
func (s State) Pause() (State, bool) {
	if !s.CanPause() {
		return s, false
	}
	s.Paused = true
	return s, true
}

// Resume reports false and leaves s untouched unless the recording is paused.
func (s State) Resume() (State, bool) {
	if !s.CanResume() {
		return s, false
	}
	s.Paused = false
	return s, true
}

// Append adds one utterance followed by a separating space.
func (s State) Append(text string) State {
	s.Transcription += text + " "
	return s
}

func (s State) Reset() State {
	return State{}
}
