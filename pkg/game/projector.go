package game

import "fmt"

type Role int

const (
	Spectator Role = iota
	RoleX
	RoleO
)

// View is what the UI needs to gate its controls: everything here is a
// best-effort local mirror of server rules, never a decision. The server's
// next push always wins.
type View struct {
	Role       Role
	Mark       Mark // Empty for spectators
	Turn       Mark // whose move it would be, regardless of viewer
	IsMyTurn   bool
	CanAct     bool
	CanRematch bool
	Outcome    string // empty unless Finished
}

// Project derives the view state for one viewer from a snapshot. Pure; a nil
// snapshot yields a fully inert view.
func Project(s *Snapshot, viewer string) View {
	if s == nil {
		return View{}
	}

	v := View{Turn: Turn(s)}

	switch viewer {
	case s.PlayerXName:
		v.Role, v.Mark = RoleX, MarkX
	case s.PlayerOName:
		if s.PlayerOName != "" {
			v.Role, v.Mark = RoleO, MarkO
		}
	}

	v.IsMyTurn = v.Role != Spectator && v.Mark == v.Turn
	v.CanAct = s.Status == StatusInProgress && v.IsMyTurn

	if s.Status == StatusFinished {
		v.Outcome = outcome(s)
		// Rematch needs both seats filled and only participants may ask.
		v.CanRematch = v.Role != Spectator && s.PlayerOName != ""
	}
	return v
}

// Turn mirrors the server's parity rule exactly: X always moves first and
// ties favor X acting.
func Turn(s *Snapshot) Mark {
	var xs, os int
	for _, m := range s.Board {
		switch m {
		case MarkX:
			xs++
		case MarkO:
			os++
		}
	}
	if xs <= os {
		return MarkX
	}
	return MarkO
}

func outcome(s *Snapshot) string {
	switch s.Winner {
	case WinnerX:
		return fmt.Sprintf("%s wins (X)", s.PlayerXName)
	case WinnerO:
		name := s.PlayerOName
		if name == "" {
			name = "O"
		}
		return fmt.Sprintf("%s wins (O)", name)
	default:
		return "Draw"
	}
}
