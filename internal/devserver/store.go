package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tictacgo/pkg/game"
)

var ErrGameNotFound = errors.New("game not found")

type record struct {
	snap    game.Snapshot
	created time.Time
}

// store holds every game and scoreboard in memory. Nothing survives a
// restart; this server exists for local play and tests.
type store struct {
	mu    sync.Mutex
	games map[string]*record
	stats map[string]game.Stats
}

func newStore() *store {
	return &store{
		games: make(map[string]*record),
		stats: make(map[string]game.Stats),
	}
}

func (st *store) create(playerName string) game.Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := uuid.NewString()
	rec := &record{
		snap: game.Snapshot{
			ID:          id,
			Status:      game.StatusOpen,
			PlayerXName: playerName,
		},
		created: time.Now().UTC(),
	}
	st.games[id] = rec
	return rec.snap
}

func (st *store) get(id string) (game.Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.games[id]
	if !ok {
		return game.Snapshot{}, ErrGameNotFound
	}
	return rec.snap, nil
}

func (st *store) open() []game.OpenGame {
	st.mu.Lock()
	defer st.mu.Unlock()

	list := make([]game.OpenGame, 0)
	for _, rec := range st.games {
		if rec.snap.Status == game.StatusOpen {
			list = append(list, game.OpenGame{
				ID:          rec.snap.ID,
				PlayerXName: rec.snap.PlayerXName,
				CreatedAt:   rec.created.Format(time.RFC3339),
			})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	return list
}

// update runs fn against a game under the lock and returns the resulting
// snapshot. When fn finishes the game, both scoreboards are settled.
func (st *store) update(id string, fn func(*game.Snapshot) error) (game.Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.games[id]
	if !ok {
		return game.Snapshot{}, ErrGameNotFound
	}

	before := rec.snap.Status
	if err := fn(&rec.snap); err != nil {
		return game.Snapshot{}, err
	}
	if before != game.StatusFinished && rec.snap.Status == game.StatusFinished {
		st.settleLocked(rec.snap)
	}
	return rec.snap, nil
}

func (st *store) settleLocked(s game.Snapshot) {
	x := st.stats[s.PlayerXName]
	o := st.stats[s.PlayerOName]
	x.Played++
	o.Played++
	switch s.Winner {
	case game.WinnerX:
		x.Wins++
		o.Losses++
	case game.WinnerO:
		o.Wins++
		x.Losses++
	default:
		x.Draws++
		o.Draws++
	}
	st.stats[s.PlayerXName] = x
	st.stats[s.PlayerOName] = o
}

func (st *store) playerStats(name string) game.Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats[name]
}
