package ui

import "strings"

// sparkRunes are eight bar heights from empty to full.
var sparkRunes = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples drawn as block characters.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, overwriting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	if s.count < len(s.samples) {
		s.count++
	}
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int { return s.count }

// ordered returns samples oldest first.
func (s *Sparkline) ordered() []float64 {
	out := make([]float64, 0, s.count)
	start := (s.head - s.count + len(s.samples)) % len(s.samples)
	for i := 0; i < s.count; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// RenderWidth draws the newest width samples, left-padded with empty bars.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	values := s.ordered()
	if len(values) > width {
		values = values[len(values)-width:]
	}

	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(string(sparkRunes[0]), width-len(values)))
	for _, v := range values {
		level := 0
		if peak > 0 && v > 0 {
			level = int(v / peak * float64(len(sparkRunes)-1))
		}
		sb.WriteRune(sparkRunes[level])
	}
	return sb.String()
}
