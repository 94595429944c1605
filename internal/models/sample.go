package models

import "fmt"

// Kind tags a similarity sample as within one track or across two tracks.
type Kind int

const (
	// KindIntra holds the strict upper triangle of a track's self-similarity matrix.
	KindIntra Kind = iota
	// KindInter holds the full row-major cross-similarity matrix of two distinct tracks.
	KindInter
)

func (k Kind) String() string {
	switch k {
	case KindIntra:
		return "intra"
	case KindInter:
		return "inter"
	default:
		return "unknown"
	}
}

// ParseKind parses "intra" or "inter".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "intra":
		return KindIntra, nil
	case "inter":
		return KindInter, nil
	}
	return 0, fmt.Errorf("unknown sample kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Sample is one batch of cosine similarities produced by the engine.
// I and J are positions in the selected track order; for intra samples I == J.
// (I, J) is the deterministic key samples are ordered by.
type Sample struct {
	Kind   Kind
	I, J   int
	TrackA string
	TrackB string
	Values []float64
}
