package engagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ZeroValueIsClosed(t *testing.T) {
	var s Session
	assert.False(t, s.Open())
	assert.Equal(t, Session{}, s.Reset())
}

func TestSession_ClassifyClosedReturnsNothing(t *testing.T) {
	s := Session{}.Press(Point{X: 1, Y: 1}, time.Unix(10, 0))

	ev, next := s.Classify(Suggestion{ID: "a"}, time.Unix(20, 0), 0, &Selection{})

	assert.Nil(t, ev)
	assert.Equal(t, s, next)
}

func TestSession_ClassifyIsPure(t *testing.T) {
	start := time.Unix(100, 0)
	s := Session{}.Enter(Point{X: 0, Y: 50}, start).Move(Point{X: 10, Y: 60})

	ev1, next1 := s.Classify(Suggestion{ID: "a"}, start.Add(2*time.Second), 100, nil)
	ev2, next2 := s.Classify(Suggestion{ID: "a"}, start.Add(2*time.Second), 100, nil)

	require.NotNil(t, ev1)
	assert.Equal(t, ev1, ev2)
	assert.Equal(t, next1, next2)
	assert.Equal(t, Session{}, next1)
	assert.True(t, s.Open(), "receiver is not mutated")
	assert.Equal(t, 40.0, ev1.ScrollDistanceAtEngage)
	assert.Equal(t, int64(2000), ev1.DurationMs)
}

func TestSession_ClassifySelectionPayload(t *testing.T) {
	tests := []struct {
		name        string
		sel         *Selection
		wantType    Type
		wantPayload bool
	}{
		{name: "absent", sel: nil, wantType: TypeTime},
		{name: "zeroed", sel: &Selection{}, wantType: TypeInteraction},
		{name: "x only", sel: &Selection{X: 9}, wantType: TypeInteraction},
		{name: "y only", sel: &Selection{Y: 9}, wantType: TypeInteraction},
		{name: "both axes", sel: &Selection{X: 9, Y: 7, SelectedText: "abc", HasText: true}, wantType: TypeInteraction, wantPayload: true},
	}

	start := time.Unix(100, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{}.Enter(Point{}, start)

			ev, _ := s.Classify(Suggestion{ID: "a"}, start.Add(time.Second), 0, tt.sel)

			require.NotNil(t, ev)
			assert.Equal(t, tt.wantType, ev.Type)
			if tt.wantPayload {
				require.NotNil(t, ev.SelectionDistanceTraveled)
				assert.Equal(t, *tt.sel, *ev.SelectionDistanceTraveled)
			} else {
				assert.Nil(t, ev.SelectionDistanceTraveled)
			}
		})
	}
}

func TestSession_EnterResetsAccumulatedDistance(t *testing.T) {
	s := Session{Accumulated: Distance{X: 99, Y: 99}}

	s = s.Enter(Point{X: 1, Y: 2}, time.Unix(5, 0))

	assert.Equal(t, Distance{}, s.Accumulated)
	assert.Equal(t, Point{X: 1, Y: 2}, s.LastPosition)
}

func TestSession_PressOverwritesDown(t *testing.T) {
	s := Session{}.Press(Point{X: 1, Y: 1}, time.Unix(1, 0))
	s = s.Press(Point{X: 5, Y: 6}, time.Unix(2, 0))

	require.NotNil(t, s.Down)
	assert.Equal(t, PointerDown{X: 5, Y: 6, At: time.Unix(2, 0)}, *s.Down)
}
