package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// State tracks one navigation attempt's progress through the solver.
type State int

const (
	NotChecked State = iota
	Clear
	Present
	Solving
	Solved
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not_checked"
	case Clear:
		return "clear"
	case Present:
		return "present"
	case Solving:
		return "solving"
	case Solved:
		return "solved"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// geometry is the DOM measurement of the slider handle and its track,
// already offset by the containing iframe when the challenge renders in one.
type geometry struct {
	HandleLeft   float64
	HandleTop    float64
	HandleWidth  float64
	HandleHeight float64
	TrackLeft    float64
	TrackWidth   float64
	InIframe     bool
}

// Solver detects and defeats the target's slider challenge on one page.
// Scoped to a single navigation attempt; create a fresh one per load.
type Solver struct {
	page        playwright.Page
	catalog     Catalog
	maxAttempts int
	state       State
	logger      *slog.Logger
}

type SolverOption func(*Solver)

func WithCatalog(c Catalog) SolverOption {
	return func(s *Solver) { s.catalog = c }
}

func WithMaxAttempts(n int) SolverOption {
	return func(s *Solver) { s.maxAttempts = n }
}

func NewSolver(page playwright.Page, opts ...SolverOption) *Solver {
	s := &Solver{
		page:        page,
		catalog:     DefaultCatalog(),
		maxAttempts: 3,
		state:       NotChecked,
		logger:      slog.Default().With("component", "captcha_solver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Solver) State() State {
	return s.state
}

// Detect inspects URL, page text and the selector catalog (including
// same-origin iframes) for challenge markers. The answer is "probably
// blocked", not certainty; both false negatives and false positives occur.
func (s *Solver) Detect(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	url := strings.ToLower(s.page.URL())
	for _, marker := range s.catalog.URLMarkers {
		if strings.Contains(url, marker) {
			s.logger.Info("challenge detected in URL", "url", url, "marker", marker)
			s.state = Present
			return true, nil
		}
	}

	content, err := s.page.Content()
	if err == nil {
		lower := strings.ToLower(content)
		for _, kw := range s.catalog.ContentKeywords {
			if strings.Contains(lower, kw) {
				s.logger.Info("challenge detected in page text", "keyword", kw)
				s.state = Present
				return true, nil
			}
		}
	}

	found, err := s.page.Evaluate(detectScript, map[string]any{
		"selectors": s.catalog.DetectionSelectors,
	})
	if err != nil {
		return false, fmt.Errorf("challenge detection script failed: %w", err)
	}
	if present, _ := found.(bool); present {
		s.logger.Info("challenge detected by selector scan")
		s.state = Present
		return true, nil
	}

	s.state = Clear
	return false, nil
}

// Solve runs the drag strategies until verification passes or the attempt
// budget is spent. It never loops indefinitely; the caller decides what a
// failure means for the session.
func (s *Solver) Solve(ctx context.Context) (bool, error) {
	s.state = Solving

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s.logger.Info("solve attempt", "attempt", attempt, "max", s.maxAttempts)

		var err error
		switch attempt {
		case 1:
			// Full-width eased drag; the target wants the handle at the
			// far end of the track, not a fixed pixel offset.
			err = s.easedDrag(1.0)
		case 2:
			// Push further past the end in case the first drag released
			// a few pixels short.
			err = s.easedDrag(1.1)
		default:
			err = s.maxDistanceDrag()
		}
		if err != nil {
			s.logger.Warn("drag failed", "attempt", attempt, "error", err)
		}

		time.Sleep(1500 * time.Millisecond)
		if s.verify() {
			s.logger.Info("challenge solved", "attempt", attempt)
			s.state = Solved
			return true, nil
		}
	}

	// Blunt last resort: mutate the handle style directly and dispatch
	// synthetic mouse events.
	if err := s.styleFallback(); err == nil {
		time.Sleep(2 * time.Second)
		if s.verify() {
			s.logger.Info("challenge solved by style fallback")
			s.state = Solved
			return true, nil
		}
	}

	s.logger.Warn("challenge attempts exhausted", "attempts", s.maxAttempts)
	s.state = Exhausted
	return false, nil
}

// DetectAndSolve is the per-navigation entry point: settle, detect, solve.
func (s *Solver) DetectAndSolve(ctx context.Context) (bool, error) {
	time.Sleep(2 * time.Second)

	present, err := s.Detect(ctx)
	if err != nil {
		return false, err
	}
	if !present {
		s.logger.Info("no challenge detected")
		return true, nil
	}

	// Let the challenge widget finish loading before touching it.
	time.Sleep(3 * time.Second)
	return s.Solve(ctx)
}

func (s *Solver) measure() (*geometry, error) {
	raw, err := s.page.Evaluate(geometryScript, map[string]any{
		"handle": s.catalog.HandleSelectors,
		"track":  s.catalog.TrackSelectors,
	})
	if err != nil {
		return nil, fmt.Errorf("slider measurement script failed: %w", err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("slider handle not found")
	}

	g := &geometry{
		HandleLeft:   num(m["handleLeft"]),
		HandleTop:    num(m["handleTop"]),
		HandleWidth:  num(m["handleWidth"]),
		HandleHeight: num(m["handleHeight"]),
		TrackLeft:    num(m["trackLeft"]),
		TrackWidth:   num(m["trackWidth"]),
	}
	if v, ok := m["inIframe"].(bool); ok {
		g.InIframe = v
	}
	if g.TrackWidth <= 0 {
		return nil, fmt.Errorf("slider track has no width")
	}
	return g, nil
}

// easedDrag performs the human-shaped drag: pointer down on the handle
// centre, incremental moves on a slow-fast-slow velocity curve with small
// vertical jitter, pointer up at the destination. The easing and jitter
// are the anti-detection technique; a linear sweep is trivially flagged.
func (s *Solver) easedDrag(factor float64) error {
	g, err := s.measure()
	if err != nil {
		return err
	}

	distance := g.TrackWidth * factor
	startX := g.HandleLeft + g.HandleWidth/2
	startY := g.HandleTop + g.HandleHeight/2

	s.logger.Info("sliding",
		"from_x", int(startX), "from_y", int(startY),
		"distance", int(distance), "in_iframe", g.InIframe)

	mouse := s.page.Mouse()
	if err := mouse.Move(startX, startY); err != nil {
		return fmt.Errorf("failed to position pointer: %w", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := mouse.Down(); err != nil {
		return fmt.Errorf("failed to press pointer: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	const steps = 25
	for i := 1; i <= steps; i++ {
		progress := float64(i) / steps
		x := startX + distance*ease(progress)
		y := startY + (rand.Float64()*2 - 1)
		if err := mouse.Move(x, y); err != nil {
			mouse.Up()
			return fmt.Errorf("failed mid-drag move: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(11)) * time.Millisecond)
	}

	if err := mouse.Up(); err != nil {
		return fmt.Errorf("failed to release pointer: %w", err)
	}
	return nil
}

// maxDistanceDrag sweeps well past the track's right edge with a flat
// velocity profile. Less subtle, but some challenge variants accept it
// when the eased drag keeps landing short.
func (s *Solver) maxDistanceDrag() error {
	g, err := s.measure()
	if err != nil {
		return err
	}

	startX := g.HandleLeft + g.HandleWidth/2
	startY := g.HandleTop + g.HandleHeight/2
	endX := g.TrackLeft + g.TrackWidth + 50

	s.logger.Info("max-distance slide", "from_x", int(startX), "to_x", int(endX))

	mouse := s.page.Mouse()
	if err := mouse.Move(startX, startY); err != nil {
		return fmt.Errorf("failed to position pointer: %w", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := mouse.Down(); err != nil {
		return fmt.Errorf("failed to press pointer: %w", err)
	}
	time.Sleep(100 * time.Millisecond)

	const steps = 30
	for i := 1; i <= steps; i++ {
		progress := float64(i) / steps
		x := startX + (endX-startX)*progress
		y := startY + (rand.Float64()*4 - 2)
		if err := mouse.Move(x, y); err != nil {
			mouse.Up()
			return fmt.Errorf("failed mid-drag move: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(11)) * time.Millisecond)
	}

	if err := mouse.Up(); err != nil {
		return fmt.Errorf("failed to release pointer: %w", err)
	}
	return nil
}

// styleFallback sets the handle's left style to the end of the track and
// dispatches synthetic mousedown/mouseup events.
func (s *Solver) styleFallback() error {
	ok, err := s.page.Evaluate(styleFallbackScript, map[string]any{
		"handle": s.catalog.HandleSelectors,
		"track":  s.catalog.TrackSelectors,
	})
	if err != nil {
		return fmt.Errorf("style fallback script failed: %w", err)
	}
	if applied, _ := ok.(bool); !applied {
		return fmt.Errorf("style fallback found no slider")
	}
	return nil
}

// verify checks the secondary success signals: the handle visibly moved,
// the challenge container disappeared, or target content is now present.
func (s *Solver) verify() bool {
	solved, err := s.page.Evaluate(verifyScript, map[string]any{
		"handle": s.catalog.HandleSelectors,
		"track":  s.catalog.TrackSelectors,
	})
	if err != nil {
		s.logger.Warn("solve verification script failed", "error", err)
		return false
	}
	ok, _ := solved.(bool)
	return ok
}

// ease maps linear progress onto a slow-fast-slow velocity curve.
func ease(p float64) float64 {
	switch {
	case p < 0.3:
		return p * p * 2.5
	case p > 0.7:
		return 1 - (1-p)*(1-p)*2.5
	default:
		return p
	}
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
