package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tictacgo/internal/config"
	"tictacgo/internal/realtime"
	"tictacgo/internal/session"
	"tictacgo/internal/transport"
	"tictacgo/pkg/game"
)

func main() {
	name := flag.String("name", "", "display name to play as")
	flag.Parse()

	cfg := config.Load()
	logger := zap.NewNop()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	in := bufio.NewScanner(os.Stdin)
	for *name == "" {
		fmt.Print("Pick a display name: ")
		if !in.Scan() {
			return
		}
		*name = strings.TrimSpace(in.Text())
	}

	ctx := context.Background()
	api := transport.New(cfg.APIBaseURL, logger)
	mgr := realtime.NewManager(cfg.HubURL, logger)
	defer mgr.Release(context.Background())

	if err := api.Login(ctx, *name); err != nil {
		fmt.Fprintln(os.Stderr, "login:", err)
		os.Exit(1)
	}
	fmt.Printf("Welcome, %s. Commands: new | join <n> | open | quit\n", *name)

	for {
		gameID, ok := lobbyLoop(ctx, in, api, mgr, *name, logger)
		if !ok {
			return
		}
		gameLoop(ctx, in, api, mgr, *name, gameID, logger)
	}
}

func lobbyLoop(ctx context.Context, in *bufio.Scanner, api *transport.Client, mgr *realtime.Manager, name string, logger *zap.Logger) (string, bool) {
	ctl := session.New(api, mgr, name, logger)
	ctl.OnLobbyUpdated(func(l session.Lobby) {
		fmt.Printf("\n(lobby updated: %d open games)\n> ", len(l.Open))
	})
	if _, err := ctl.Enter(ctx, session.LobbyRoom()); err != nil {
		fmt.Fprintln(os.Stderr, "lobby:", err)
		return "", false
	}
	defer ctl.Leave(ctx)

	printLobby(ctl.LobbyState())

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return "", false
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit":
			return "", false
		case "open":
			printLobby(ctl.LobbyState())
		case "new":
			id, err := ctl.CreateGame(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			return id, true
		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <number|id>")
				continue
			}
			id := fields[1]
			if n, err := strconv.Atoi(id); err == nil {
				open := ctl.LobbyState().Open
				if n < 1 || n > len(open) {
					fmt.Println("no such game")
					continue
				}
				id = open[n-1].ID
			}
			if err := api.JoinGame(ctx, id, name); err != nil {
				fmt.Println("error:", err)
				continue
			}
			return id, true
		default:
			fmt.Println("commands: new | join <n> | open | quit")
		}
	}
}

func gameLoop(ctx context.Context, in *bufio.Scanner, api *transport.Client, mgr *realtime.Manager, name, gameID string, logger *zap.Logger) {
	ctl := session.New(api, mgr, name, logger)
	ctl.OnGameUpdated(func(snap *game.Snapshot) {
		fmt.Println()
		printGame(snap, name)
		fmt.Print("> ")
	})
	ctl.OnNotice(func(msg string) {
		fmt.Printf("\n! %s\n> ", msg)
	})
	snap, err := ctl.Enter(ctx, session.GameRoom(gameID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "game:", err)
		return
	}
	defer ctl.Leave(ctx)

	printGame(snap, name)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "back", "quit":
			return
		case "board":
			printGame(ctl.Snapshot(), name)
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <0-8>")
				continue
			}
			cell, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: move <0-8>")
				continue
			}
			if _, err := ctl.Act(ctx, session.MoveAction(cell)); err != nil {
				fmt.Println("error:", err)
			}
		case "sit":
			if _, err := ctl.Act(ctx, session.JoinAction()); err != nil {
				fmt.Println("error:", err)
			}
		case "rematch":
			if _, err := ctl.Act(ctx, session.RematchAction()); err != nil {
				fmt.Println("error:", err)
			}
		default:
			fmt.Println("commands: move <0-8> | sit | rematch | board | back")
		}
	}
}

func printLobby(l session.Lobby) {
	s := l.Stats
	fmt.Printf("Played %d  W %d  L %d  D %d\n", s.Played, s.Wins, s.Losses, s.Draws)
	if len(l.Open) == 0 {
		fmt.Println("No open games. Type 'new' to create one.")
		return
	}
	for i, g := range l.Open {
		fmt.Printf("%2d. %s (created %s)\n", i+1, g.PlayerXName, g.CreatedAt)
	}
}

func printGame(snap *game.Snapshot, viewer string) {
	if snap == nil {
		return
	}
	for row := 0; row < 3; row++ {
		cells := make([]string, 3)
		for col := 0; col < 3; col++ {
			idx := row*3 + col
			if m := snap.Board[idx]; m != game.Empty {
				cells[col] = m.String()
			} else {
				cells[col] = strconv.Itoa(idx)
			}
		}
		fmt.Printf(" %s | %s | %s\n", cells[0], cells[1], cells[2])
		if row < 2 {
			fmt.Println("---+---+---")
		}
	}

	v := game.Project(snap, viewer)
	switch snap.Status {
	case game.StatusOpen:
		if v.Role == game.RoleX {
			fmt.Println("Waiting for an opponent (type 'board' to re-check).")
		} else {
			fmt.Println("Game is open. Type 'sit' to join as O.")
		}
	case game.StatusInProgress:
		switch {
		case v.CanAct:
			fmt.Printf("Your move (%s).\n", v.Mark)
		case v.Role != game.Spectator:
			fmt.Printf("Opponent's move (%s).\n", v.Turn)
		default:
			fmt.Printf("Spectating. Turn: %s\n", v.Turn)
		}
	case game.StatusFinished:
		fmt.Println(v.Outcome)
		if v.CanRematch {
			fmt.Println("Type 'rematch' to play again.")
		}
	}
}
