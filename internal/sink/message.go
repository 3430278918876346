package sink

import (
	applog "freqsink/internal/log"
)

// inertDB fills channel rows a PDU frame carries no data for. It sits
// at the analyzer's dB floor so those rows can never satisfy a level
// trigger.
const inertDB = float32(-400)

// PDU is a structured message whose payload is a float vector. Meta
// is optional transport metadata; only Data participates in frame
// production.
type PDU struct {
	Meta map[string]any
	Data []float32
}

// HandleMessage feeds message-mode input: a raw float32 vector, a
// PDU, or a *PDU. The payload length must be a positive exact
// multiple of the FFT size; each FFT-size slice is treated as one
// already-complete channel-0 window and run through analysis and
// triggering like a stream window.
//
// Malformed messages are dropped with a warning and leave all
// pipeline state untouched; they never produce a frame and never
// propagate a failure into ongoing stream accumulation.
func (s *Sink) HandleMessage(msg any) {
	switch v := msg.(type) {
	case []float32:
		s.handleVector(v)
	case PDU:
		s.handleVector(v.Data)
	case *PDU:
		if v != nil {
			s.handleVector(v.Data)
		}
	default:
		applog.Warnf("Sink: dropping message of unsupported type %T", msg)
	}
}

func (s *Sink) handleVector(data []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) == 0 || len(data)%s.fftSize != 0 {
		applog.Warnf("Sink: dropping message vector of length %d, not a multiple of fft size %d",
			len(data), s.fftSize)
		return
	}

	for off := 0; off < len(data); off += s.fftSize {
		rows := make([][]float32, s.nchannels+1)
		for i := range rows {
			rows[i] = make([]float32, s.fftSize)
		}
		// Channels beyond the PDU's single logical channel carry no
		// data; keep them inert for triggering.
		for ch := 1; ch < s.nchannels; ch++ {
			for i := range rows[ch] {
				rows[ch][i] = inertDB
			}
		}

		if err := s.analyzer.Analyze(rows[0], 0, data[off:off+s.fftSize]); err != nil {
			applog.Errorf("Sink: message window analysis failed: %v", err)
			return
		}

		// Message windows have no stream position, so a TAG trigger
		// sees an empty span and keeps withholding.
		s.finalizeFrame(rows, 0, 0)
	}
}

// HandleSetFreq services the frequency control message: a bare
// number, or a PDU whose Meta carries a "freq" entry. The bandwidth
// is left unchanged. Unrecognized payloads are dropped with a
// warning.
func (s *Sink) HandleSetFreq(msg any) {
	freq, ok := freqFromMessage(msg)
	if !ok {
		applog.Warnf("Sink: dropping set-freq message of type %T", msg)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.centerFreq = freq
	applog.Infof("Sink: center frequency set to %.0f Hz via message", freq)
}

func freqFromMessage(msg any) (float64, bool) {
	switch v := msg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case PDU:
		return freqFromMeta(v.Meta)
	case *PDU:
		if v == nil {
			return 0, false
		}
		return freqFromMeta(v.Meta)
	default:
		return 0, false
	}
}

func freqFromMeta(meta map[string]any) (float64, bool) {
	raw, ok := meta["freq"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
