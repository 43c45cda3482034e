package game

import "testing"

func board(marks ...Mark) [9]Mark {
	var b [9]Mark
	copy(b[:], marks)
	return b
}

func TestProject_NilSnapshotIsInert(t *testing.T) {
	v := Project(nil, "ann")
	if v.Role != Spectator || v.CanAct || v.IsMyTurn || v.Outcome != "" || v.CanRematch {
		t.Fatalf("expected inert view, got %+v", v)
	}
}

func TestTurnParity(t *testing.T) {
	cases := []struct {
		name  string
		board [9]Mark
		want  Mark
	}{
		{"empty board is X's turn", board(), MarkX},
		{"equal counts favor X", board(MarkX, MarkO), MarkX},
		{"X ahead by one means O moves", board(MarkX), MarkO},
		{"midgame equal counts", board(MarkX, MarkO, MarkX, MarkO), MarkX},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Snapshot{Status: StatusInProgress, Board: tc.board}
			if got := Turn(s); got != tc.want {
				t.Fatalf("turn = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProject_OpenGameNobodyActs(t *testing.T) {
	s := &Snapshot{Status: StatusOpen, PlayerXName: "Ann"}

	ann := Project(s, "Ann")
	if ann.Role != RoleX {
		t.Fatalf("Ann should be X, got %v", ann.Role)
	}
	if ann.CanAct {
		t.Fatal("nobody can act while the game is open")
	}
	if ann.Outcome != "" {
		t.Fatalf("open game has no outcome, got %q", ann.Outcome)
	}

	if v := Project(s, "Zoe"); v.Role != Spectator || v.CanAct {
		t.Fatalf("stranger should spectate, got %+v", v)
	}
}

func TestProject_InProgressTurnGating(t *testing.T) {
	s := &Snapshot{
		Status:      StatusInProgress,
		PlayerXName: "Ann",
		PlayerOName: "Bob",
	}

	// Zero marks each: Ann (X) to move.
	ann := Project(s, "Ann")
	if !ann.IsMyTurn || !ann.CanAct {
		t.Fatalf("Ann should act first, got %+v", ann)
	}
	if bob := Project(s, "Bob"); bob.CanAct {
		t.Fatalf("Bob cannot act yet, got %+v", bob)
	}

	// Ann plays cell 4: the turn flips.
	s.Board[4] = MarkX
	if ann := Project(s, "Ann"); ann.CanAct {
		t.Fatal("Ann just moved, she cannot act")
	}
	bob := Project(s, "Bob")
	if !bob.CanAct || bob.Mark != MarkO {
		t.Fatalf("Bob should act, got %+v", bob)
	}

	// Spectators never act regardless of the turn.
	if v := Project(s, "Zoe"); v.CanAct {
		t.Fatal("spectator can never act")
	}
}

func TestProject_FinishedOutcome(t *testing.T) {
	s := &Snapshot{
		Status:      StatusFinished,
		PlayerXName: "Ann",
		PlayerOName: "Bob",
		Winner:      WinnerX,
	}

	ann := Project(s, "Ann")
	if ann.Outcome != "Ann wins (X)" {
		t.Fatalf("outcome = %q", ann.Outcome)
	}
	if ann.CanAct {
		t.Fatal("no acting on a finished game")
	}
	if !ann.CanRematch {
		t.Fatal("participants may ask for a rematch")
	}
	if v := Project(s, "Zoe"); v.CanRematch {
		t.Fatal("spectators may not ask for a rematch")
	}

	s.Winner = WinnerDraw
	if v := Project(s, "Bob"); v.Outcome != "Draw" {
		t.Fatalf("outcome = %q", v.Outcome)
	}
}

func TestProject_NoRematchWithoutOpponent(t *testing.T) {
	// A finished game with an empty O seat should not offer a rematch.
	s := &Snapshot{Status: StatusFinished, PlayerXName: "Ann", Winner: WinnerDraw}
	if v := Project(s, "Ann"); v.CanRematch {
		t.Fatal("rematch requires both seats filled")
	}
}
