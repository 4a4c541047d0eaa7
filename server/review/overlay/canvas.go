package overlay

const (
	DefaultColor = "#667eea"
	DefaultWidth = 3

	// The eraser paints over earlier strokes with the background colour; it
	// never removes them from the document.
	EraseColor = "#ffffff"
	EraseWidth = 20
)

type Brush struct {
	Color string
	Width float64
}

func DefaultBrush() Brush {
	return Brush{Color: DefaultColor, Width: DefaultWidth}
}

func EraseBrush() Brush {
	return Brush{Color: EraseColor, Width: EraseWidth}
}

// Canvas is the working stroke sequence behind a drawing session. Every method
// returns a new Canvas and leaves the receiver untouched.
type Canvas struct {
	strokes   []Stroke
	brush     Brush
	lastBrush Brush
	erasing   bool
}

func NewCanvas(brush Brush) Canvas {
	return Canvas{brush: brush, lastBrush: brush}
}

func (c Canvas) Brush() Brush {
	return c.brush
}

func (c Canvas) Erasing() bool {
	return c.erasing
}

func (c Canvas) Len() int {
	return len(c.strokes)
}

// Draw appends one stroke painted with the current brush. A path without
// points is ignored.
func (c Canvas) Draw(points ...Point) Canvas {
	if len(points) == 0 {
		return c
	}
	next := c
	next.strokes = make([]Stroke, 0, len(c.strokes)+1)
	next.strokes = append(next.strokes, c.strokes...)
	next.strokes = append(next.strokes, Stroke{
		Color:  c.brush.Color,
		Width:  c.brush.Width,
		Points: append([]Point(nil), points...),
	})
	return next
}

func (c Canvas) SetColor(color string) Canvas {
	next := c
	next.brush.Color = color
	if !c.erasing {
		next.lastBrush = next.brush
	}
	return next
}

func (c Canvas) SetWidth(width float64) Canvas {
	next := c
	next.brush.Width = width
	if !c.erasing {
		next.lastBrush = next.brush
	}
	return next
}

// ToggleEraser switches to the erase brush, or back to the colour used before
// erasing. Leaving the eraser resets the width to the default, as the drawing
// client does.
func (c Canvas) ToggleEraser() Canvas {
	next := c
	if c.erasing {
		next.brush = Brush{Color: c.lastBrush.Color, Width: DefaultWidth}
		next.lastBrush = next.brush
		next.erasing = false
		return next
	}
	next.lastBrush = c.brush
	next.brush = EraseBrush()
	next.erasing = true
	return next
}

// Undo drops the most recently added stroke.
func (c Canvas) Undo() Canvas {
	if len(c.strokes) == 0 {
		return c
	}
	next := c
	next.strokes = append([]Stroke(nil), c.strokes[:len(c.strokes)-1]...)
	return next
}

func (c Canvas) Clear() Canvas {
	next := c
	next.strokes = nil
	return next
}

func (c Canvas) Strokes() []Stroke {
	return cloneStrokes(c.strokes)
}

// Encode returns nil when nothing has been drawn.
func (c Canvas) Encode() *Document {
	return Encode(c.strokes)
}

// Replay rebuilds a canvas from a stored document so a reviewer can continue
// from it.
func Replay(doc Document, brush Brush) Canvas {
	c := NewCanvas(brush)
	c.strokes = Decode(doc)
	return c
}
