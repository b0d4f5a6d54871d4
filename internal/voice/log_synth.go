package voice

import "log/slog"

// LogSynth writes utterances to a logger. It stands in for a speaker on
// headless hosts.
type LogSynth struct {
	Logger *slog.Logger
}

func (s LogSynth) Speak(u Utterance) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("speech", "text", u.Text, "priority", u.Priority, "volume", u.Volume)
	return nil
}

func (s LogSynth) Cancel() {}

// Multi speaks through every synth in order. Speak returns the first error
// but still tries the remaining synths.
type Multi []Synth

func (m Multi) Speak(u Utterance) error {
	var first error
	for _, s := range m {
		if err := s.Speak(u); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Cancel() {
	for _, s := range m {
		s.Cancel()
	}
}
