// Package overlay holds the freehand drawing format stored alongside comments.
//
// A Document is plain point, colour and width data. It never carries markup,
// scripts or external references, so it can be stored and replayed verbatim.
package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
)

const DocumentVersion = 1

var ErrInvalidDocument = errors.New("invalid overlay document")

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Stroke struct {
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

type Document struct {
	Version int      `json:"version"`
	Strokes []Stroke `json:"strokes"`
}

// Encode builds a document from an ordered stroke sequence. It returns nil for
// an empty sequence: an empty canvas produces no overlay.
func Encode(strokes []Stroke) *Document {
	if len(strokes) == 0 {
		return nil
	}
	return &Document{Version: DocumentVersion, Strokes: cloneStrokes(strokes)}
}

// Decode returns the document's strokes in drawing order.
func Decode(doc Document) []Stroke {
	return cloneStrokes(doc.Strokes)
}

func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Parse validates an inbound document. A null or empty payload, or a document
// without strokes, yields nil and no error.
func Parse(raw []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidDocument)
	}
	if doc.Version == 0 {
		doc.Version = DocumentVersion
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if len(doc.Strokes) == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (d Document) Validate() error {
	for i, s := range d.Strokes {
		if !colorPattern.MatchString(s.Color) {
			return fmt.Errorf("%w: stroke %d has invalid color %q", ErrInvalidDocument, i, s.Color)
		}
		if !finite(s.Width) || s.Width <= 0 {
			return fmt.Errorf("%w: stroke %d has invalid width", ErrInvalidDocument, i)
		}
		if len(s.Points) == 0 {
			return fmt.Errorf("%w: stroke %d has no points", ErrInvalidDocument, i)
		}
		for _, p := range s.Points {
			if !finite(p.X) || !finite(p.Y) {
				return fmt.Errorf("%w: stroke %d has a non-finite point", ErrInvalidDocument, i)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneStrokes(strokes []Stroke) []Stroke {
	out := make([]Stroke, len(strokes))
	for i, s := range strokes {
		out[i] = Stroke{Color: s.Color, Width: s.Width}
		if s.Points != nil {
			out[i].Points = make([]Point, len(s.Points))
			copy(out[i].Points, s.Points)
		}
	}
	return out
}
