package owdns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundRobinCyclesInOrder(t *testing.T) {
	a := &TestResolver{}
	b := &TestResolver{}
	c := &TestResolver{}
	s := NewRoundRobinStrategy("test", a, b, c)

	var seq []Resolver
	for i := 0; i < 6; i++ {
		r, ok := s.pick()
		require.True(t, ok)
		seq = append(seq, r)
	}
	require.Equal(t, []Resolver{a, b, c, a, b, c}, seq)
}

func TestRoundRobinDeactivateIsNoOp(t *testing.T) {
	a := &TestResolver{}
	b := &TestResolver{}
	s := NewRoundRobinStrategy("test", a, b)
	s.deactivate(a)
	require.Equal(t, 2, s.len())
}

func TestRoundRobinEmptyReturnsFalse(t *testing.T) {
	s := NewRoundRobinStrategy("test")
	_, ok := s.pick()
	require.False(t, ok)
}
