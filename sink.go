package wraptrace

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ZerologSink is the default trace sink: records become structured log
// events. Buffering and output lifecycle stay behind the logger's
// writer, so Flush and Close have nothing left to do here.
type ZerologSink struct {
	log     zerolog.Logger
	enabled atomic.Bool
}

func NewZerologSink(log zerolog.Logger) *ZerologSink {
	s := &ZerologSink{log: log}
	s.enabled.Store(true)
	return s
}

// SetEnabled toggles the process-wide tracing predicate.
func (s *ZerologSink) SetEnabled(v bool) { s.enabled.Store(v) }

func (s *ZerologSink) Enabled() bool { return s.enabled.Load() }

func (s *ZerologSink) FD(symbol string, fd int, path string, category byte) {
	e := s.log.Info().Str("symbol", symbol).Int("fd", fd).
		Str("category", string(rune(category)))
	if path != "" {
		e = e.Str("path", path)
	}
	e.Msg("fd categorized")
}

func (s *ZerologSink) Event(symbol, detail string) {
	s.log.Info().Str("symbol", symbol).Str("detail", detail).Msg("trace event")
}

func (s *ZerologSink) Flush() {}

func (s *ZerologSink) Close() {}
