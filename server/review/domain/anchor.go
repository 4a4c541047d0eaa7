package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type MediaKind string

const (
	MediaKindVideo    MediaKind = "video"
	MediaKindImage    MediaKind = "image"
	MediaKindDocument MediaKind = "document"
)

// MediaKindFromContentType classifies an upload by the top-level MIME type.
func MediaKindFromContentType(contentType string) MediaKind {
	top, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch top {
	case "video":
		return MediaKindVideo
	case "image":
		return MediaKindImage
	default:
		return MediaKindDocument
	}
}

type AnchorKind string

const (
	AnchorTemporal AnchorKind = "temporal"
	AnchorSpatial  AnchorKind = "spatial"
	AnchorNone     AnchorKind = "none"
)

// Anchor places a comment on a file. Only the fields matching Kind carry
// meaning: Timestamp for temporal, X and Y for spatial.
type Anchor struct {
	Kind      AnchorKind
	Timestamp float64
	X         float64
	Y         float64
}

func Temporal(seconds float64) Anchor {
	return Anchor{Kind: AnchorTemporal, Timestamp: seconds}
}

func Spatial(x, y float64) Anchor {
	return Anchor{Kind: AnchorSpatial, X: x, Y: y}
}

func NoAnchor() Anchor {
	return Anchor{Kind: AnchorNone}
}

// AnchorFields are the raw, optional placement values a client submits.
type AnchorFields struct {
	Timestamp *float64
	X         *float64
	Y         *float64
}

// ResolveAnchor maps client fields onto exactly one anchor variant for a file
// of the given kind. Fields that do not apply to the kind are ignored, and
// negative or non-finite values degrade to NoAnchor instead of failing.
func ResolveAnchor(kind MediaKind, fields AnchorFields) Anchor {
	switch kind {
	case MediaKindVideo:
		if validCoordinate(fields.Timestamp) {
			return Temporal(*fields.Timestamp)
		}
	case MediaKindImage:
		if validCoordinate(fields.X) && validCoordinate(fields.Y) {
			return Spatial(*fields.X, *fields.Y)
		}
	}
	return NoAnchor()
}

func validCoordinate(v *float64) bool {
	if v == nil {
		return false
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}

// Fields flattens the anchor into nullable column values.
func (a Anchor) Fields() AnchorFields {
	switch a.Kind {
	case AnchorTemporal:
		ts := a.Timestamp
		return AnchorFields{Timestamp: &ts}
	case AnchorSpatial:
		x, y := a.X, a.Y
		return AnchorFields{X: &x, Y: &y}
	default:
		return AnchorFields{}
	}
}

// AnchorFromColumns rebuilds a stored anchor. Rows written through
// ResolveAnchor only ever carry the columns of one variant.
func AnchorFromColumns(timestamp, x, y *float64) Anchor {
	switch {
	case timestamp != nil:
		return Temporal(*timestamp)
	case x != nil && y != nil:
		return Spatial(*x, *y)
	default:
		return NoAnchor()
	}
}

func (a Anchor) String() string {
	switch a.Kind {
	case AnchorTemporal:
		return fmt.Sprintf("temporal(%g)", a.Timestamp)
	case AnchorSpatial:
		return fmt.Sprintf("spatial(%g,%g)", a.X, a.Y)
	default:
		return "none"
	}
}

type anchorJSON struct {
	Kind      AnchorKind `json:"kind"`
	Timestamp *float64   `json:"timestamp,omitempty"`
	X         *float64   `json:"x,omitempty"`
	Y         *float64   `json:"y,omitempty"`
}

func (a Anchor) MarshalJSON() ([]byte, error) {
	kind := a.Kind
	if kind == "" {
		kind = AnchorNone
	}
	fields := a.Fields()
	return json.Marshal(anchorJSON{Kind: kind, Timestamp: fields.Timestamp, X: fields.X, Y: fields.Y})
}

func (a *Anchor) UnmarshalJSON(data []byte) error {
	var raw anchorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case AnchorTemporal:
		if raw.Timestamp == nil {
			return fmt.Errorf("temporal anchor requires timestamp")
		}
		*a = Temporal(*raw.Timestamp)
	case AnchorSpatial:
		if raw.X == nil || raw.Y == nil {
			return fmt.Errorf("spatial anchor requires x and y")
		}
		*a = Spatial(*raw.X, *raw.Y)
	case AnchorNone, "":
		*a = NoAnchor()
	default:
		return fmt.Errorf("unknown anchor kind %q", raw.Kind)
	}
	return nil
}
