package core

import (
	"testing"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

func TestSequencer_LocalAdvancesForEveryAction(t *testing.T) {
	s := NewSequencer(types.SeqNoNil)
	_, l1 := s.Next(false)
	_, l2 := s.Next(true)
	_, l3 := s.Next(false)
	if l1 != 1 || l2 != 2 || l3 != 3 {
		t.Errorf("expected gapless local seqnos 1,2,3; got %d,%d,%d", l1, l2, l3)
	}
}

func TestSequencer_GlobalAdvancesOnlyForOrdered(t *testing.T) {
	s := NewSequencer(types.SeqNoNil)
	g1, _ := s.Next(true)
	g2, _ := s.Next(false)
	g3, _ := s.Next(true)
	if g1 != 1 {
		t.Errorf("expected first ordered action to get global 1, got %d", g1)
	}
	if g2 != types.SeqNoIllegal {
		t.Errorf("expected a non-ordered action to get SeqNoIllegal, got %d", g2)
	}
	if g3 != 2 {
		t.Errorf("expected the second ordered action to get global 2, got %d", g3)
	}
}

func TestSequencer_SeedsFromInitialPosition(t *testing.T) {
	s := NewSequencer(10)
	g, _ := s.Next(true)
	if g != 11 {
		t.Errorf("expected the first ordered action after seeding at 10 to get global 11, got %d", g)
	}
}

func TestSequencer_AdoptGlobalOnlyMovesForward(t *testing.T) {
	s := NewSequencer(5)
	s.AdoptGlobal(3)
	if s.Global() != 5 {
		t.Errorf("AdoptGlobal should never move the counter backward, got %d", s.Global())
	}
	s.AdoptGlobal(9)
	if s.Global() != 9 {
		t.Errorf("expected AdoptGlobal to fast-forward to 9, got %d", s.Global())
	}
}

func TestSequencer_LocalReportsLastAssigned(t *testing.T) {
	s := NewSequencer(types.SeqNoNil)
	if s.Local() != 0 {
		t.Fatalf("expected a fresh sequencer to report local 0, got %d", s.Local())
	}
	_, l := s.Next(false)
	if s.Local() != l {
		t.Errorf("expected Local() to report the last assigned local seqno %d, got %d", l, s.Local())
	}
}
