package devserver

import (
	"errors"

	"tictacgo/pkg/game"
)

var ErrWrongTurn = errors.New("it is not your turn")
var ErrCellTaken = errors.New("that cell is already taken")
var ErrBadCell = errors.New("cell index must be 0..8")
var ErrNotPlaying = errors.New("game is not in progress")
var ErrNotParticipant = errors.New("you are not playing in this game")
var ErrGameNotOpen = errors.New("game is not open for joining")
var ErrAlreadyInGame = errors.New("you created this game; wait for an opponent")
var ErrNotFinished = errors.New("game is not finished yet")
var ErrNoOpponent = errors.New("no opponent to rematch with")

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// applyJoin seats player as O and starts the game.
func applyJoin(s *game.Snapshot, player string) error {
	if s.Status != game.StatusOpen {
		return ErrGameNotOpen
	}
	if s.PlayerXName == player {
		return ErrAlreadyInGame
	}
	s.PlayerOName = player
	s.Status = game.StatusInProgress
	return nil
}

// applyMove places the player's mark and settles the game if that ended it.
func applyMove(s *game.Snapshot, player string, cell int) error {
	if s.Status != game.StatusInProgress {
		return ErrNotPlaying
	}
	if cell < 0 || cell > 8 {
		return ErrBadCell
	}

	var mark game.Mark
	switch player {
	case s.PlayerXName:
		mark = game.MarkX
	case s.PlayerOName:
		mark = game.MarkO
	default:
		return ErrNotParticipant
	}

	if game.Turn(s) != mark {
		return ErrWrongTurn
	}
	if s.Board[cell] != game.Empty {
		return ErrCellTaken
	}

	s.Board[cell] = mark

	if w := winnerOf(s.Board); w != game.Empty {
		s.Status = game.StatusFinished
		if w == game.MarkX {
			s.Winner = game.WinnerX
		} else {
			s.Winner = game.WinnerO
		}
		return nil
	}
	if boardFull(s.Board) {
		s.Status = game.StatusFinished
		s.Winner = game.WinnerDraw
	}
	return nil
}

// applyRematch resets a finished game for another round between the same
// players. Seats keep their marks; X opens again.
func applyRematch(s *game.Snapshot, player string) error {
	if s.Status != game.StatusFinished {
		return ErrNotFinished
	}
	if player != s.PlayerXName && player != s.PlayerOName {
		return ErrNotParticipant
	}
	if s.PlayerOName == "" {
		return ErrNoOpponent
	}
	s.Board = [9]game.Mark{}
	s.Winner = game.WinnerNone
	s.Status = game.StatusInProgress
	return nil
}

func winnerOf(board [9]game.Mark) game.Mark {
	for _, line := range winLines {
		m := board[line[0]]
		if m != game.Empty && board[line[1]] == m && board[line[2]] == m {
			return m
		}
	}
	return game.Empty
}

func boardFull(board [9]game.Mark) bool {
	for _, m := range board {
		if m == game.Empty {
			return false
		}
	}
	return true
}
