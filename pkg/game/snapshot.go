package game

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// The backend emits status, marks and winner either as enum numbers or as
// their string names depending on serializer settings. We translate both
// forms into one representation here so nothing downstream has to care.

type Status int

const (
	StatusOpen Status = iota
	StatusInProgress
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusInProgress:
		return "InProgress"
	case StatusFinished:
		return "Finished"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	switch token(data) {
	case "0", "Open":
		*s = StatusOpen
	case "1", "InProgress":
		*s = StatusInProgress
	case "2", "Finished":
		*s = StatusFinished
	default:
		return fmt.Errorf("game: bad status %s", data)
	}
	return nil
}

type Mark int

const (
	Empty Mark = iota
	MarkX
	MarkO
)

func (m Mark) String() string {
	switch m {
	case MarkX:
		return "X"
	case MarkO:
		return "O"
	default:
		return ""
	}
}

func (m Mark) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(m))
}

func (m *Mark) UnmarshalJSON(data []byte) error {
	switch token(data) {
	case "0", "", "None":
		*m = Empty
	case "1", "X":
		*m = MarkX
	case "2", "O":
		*m = MarkO
	default:
		return fmt.Errorf("game: bad mark %s", data)
	}
	return nil
}

type Winner int

const (
	WinnerNone Winner = iota
	WinnerX
	WinnerO
	WinnerDraw
)

func (w *Winner) UnmarshalJSON(data []byte) error {
	switch token(data) {
	case "0", "", "None", "null":
		*w = WinnerNone
	case "1", "X":
		*w = WinnerX
	case "2", "O":
		*w = WinnerO
	case "3", "Draw":
		*w = WinnerDraw
	default:
		return fmt.Errorf("game: bad winner %s", data)
	}
	return nil
}

func (w Winner) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(w))
}

// token strips quotes so "X" and a bare 1 can share one switch.
func token(data []byte) string {
	if s, err := strconv.Unquote(string(data)); err == nil {
		return s
	}
	return string(data)
}

// Snapshot is the authoritative game state as last observed. It is replaced
// wholesale on every push or action response, never mutated in place.
type Snapshot struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Board       [9]Mark `json:"board"`
	PlayerXName string  `json:"playerXName"`
	PlayerOName string  `json:"playerOName,omitempty"`
	Winner      Winner  `json:"winner,omitempty"`
}

// OpenGame is one row of the lobby's open-games listing.
type OpenGame struct {
	ID          string `json:"id"`
	PlayerXName string `json:"playerXName"`
	CreatedAt   string `json:"createdAtUtc"`
}

// Stats is the per-player scoreboard.
type Stats struct {
	Played int `json:"played"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}
