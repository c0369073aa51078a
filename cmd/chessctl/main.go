package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/park285/chess-rooms/internal/client"
	"github.com/park285/chess-rooms/internal/msgcat"
	"github.com/park285/chess-rooms/pkg/chessdto"
)

const usage = `usage: chessctl [-server URL] [-tokens FILE] <command> [args]

commands:
  new                       create a game
  join <id>                 join a game (auto-seats the open color)
  color <id> white|black    claim a color
  release <id>              give the color back while waiting
  ready <id>                mark ready
  move <id> <uci> [ply]     play a move, e.g. e2e4 or a7a8q; ply defaults to
                            the last position chessctl showed for the game
  resign <id>               resign
  show <id> [-png FILE]     print the snapshot, optionally save the board
  watch <id>                follow the live stream`

func main() {
	log.SetFlags(0)
	fs := flag.NewFlagSet("chessctl", flag.ExitOnError)
	server := fs.String("server", envOr("CHESS_SERVER", "http://localhost:8080"), "server base URL")
	tokensPath := fs.String("tokens", envOr("CHESS_TOKENS", defaultTokenPath()), "token file")
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])
	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := loadTokens(*tokensPath)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	c := client.New(*server, client.WithTimeout(8*time.Second))
	tokens.apply(c)

	a := &app{c: c, msgs: msgcat.Default(), tokens: tokens, tokensPath: *tokensPath}
	if err := a.run(ctx, args[0], args[1:]); err != nil {
		if code := client.CodeOf(err); code != "" {
			log.Fatalf("%s: %s", code, a.msgs.Text("errors."+code, map[string]any{"GameID": "", "From": "", "To": "", "Promotion": ""}, err.Error()))
		}
		log.Fatal(err)
	}
}

type app struct {
	c          *client.Client
	msgs       *msgcat.Catalog
	tokens     *tokenFile
	tokensPath string
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	if cmd == "new" {
		res, err := a.c.Create(ctx)
		if err != nil {
			return err
		}
		a.remember(res.GameID)
		fmt.Println(a.msgs.Text("cli.created", map[string]any{"GameID": res.GameID, "Role": res.Role}, res.GameID))
		a.print(res.Snapshot)
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: game id required", cmd)
	}
	id := args[0]

	switch cmd {
	case "join":
		res, err := a.c.Join(ctx, id)
		if err != nil {
			return err
		}
		a.remember(id)
		fmt.Println(a.msgs.Text("cli.joined", map[string]any{"GameID": id, "Role": res.Role}, res.Role))
		a.print(res.Snapshot)
	case "color":
		if len(args) < 2 {
			return errors.New("color: white or black required")
		}
		snap, err := a.c.ChooseColor(ctx, id, args[1])
		if err != nil {
			return err
		}
		a.print(snap)
	case "release":
		snap, err := a.c.ReleaseColor(ctx, id)
		if err != nil {
			return err
		}
		a.print(snap)
	case "ready":
		res, err := a.c.Ready(ctx, id)
		if err != nil {
			return err
		}
		key := "cli.waiting_ready"
		if res.Started {
			key = "cli.started"
		}
		fmt.Println(a.msgs.Text(key, nil, "ok"))
	case "move":
		if len(args) < 2 || len(args[1]) < 4 {
			return errors.New("move: uci move required, e.g. e2e4")
		}
		uci := strings.ToLower(args[1])
		req := chessdto.MoveRequest{From: uci[0:2], To: uci[2:4], Promotion: uci[4:]}
		if len(args) > 2 {
			ply, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("move: bad ply %q", args[2])
			}
			req.Ply = &ply
		} else if ply, ok := a.tokens.ply(id); ok {
			req.Ply = &ply
		}
		res, err := a.c.Move(ctx, id, req)
		if err != nil {
			return err
		}
		fmt.Println(a.msgs.Text("cli.moved", map[string]any{"SAN": res.SAN, "Version": res.Snapshot.Version}, res.SAN))
		a.print(res.Snapshot)
	case "resign":
		snap, err := a.c.Resign(ctx, id)
		if err != nil {
			return err
		}
		a.print(snap)
	case "show":
		return a.show(ctx, id, args[1:])
	case "watch":
		w := a.c.Watcher(id, 5)
		w.OnStateChange(func(s client.WatchState) { log.Printf("stream: %s", s) })
		return w.Run(ctx, func(f client.Frame) error {
			switch {
			case f.Snapshot != nil:
				a.print(f.Snapshot)
			case f.Error != nil:
				log.Printf("stream error: %s", f.Error.Error)
			}
			return nil
		})
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

func (a *app) show(ctx context.Context, id string, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	pngPath := fs.String("png", "", "write the board image to FILE")
	orientation := fs.String("orientation", "", "white or black")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := a.c.State(ctx, id)
	if err != nil {
		return err
	}
	a.print(snap)
	if *pngPath == "" {
		return nil
	}
	img, err := a.c.BoardPNG(ctx, id, *orientation)
	if err != nil {
		return err
	}
	return os.WriteFile(*pngPath, img, 0o644)
}

func (a *app) remember(id string) {
	a.tokens.set(id, a.c.Token(id))
	if err := a.tokens.save(a.tokensPath); err != nil {
		log.Printf("warning: could not save token: %v", err)
	}
}

// print shows s and remembers its ply as the position the user last saw.
func (a *app) print(s *chessdto.Snapshot) {
	if s == nil {
		return
	}
	printSnapshot(s)
	if a.tokens.seen(s.GameID, s.Ply) {
		if err := a.tokens.save(a.tokensPath); err != nil {
			log.Printf("warning: could not save position: %v", err)
		}
	}
}

func printSnapshot(s *chessdto.Snapshot) {
	if s == nil {
		return
	}
	last := "-"
	if s.LastMove != nil {
		last = s.LastMove.From + s.LastMove.To
	}
	fmt.Printf("game %s v%d  %s  ply=%d  turn=%s  last=%s  check=%t  spectators=%d  you=%s\n",
		s.GameID, s.Version, s.Status, s.Ply, s.Turn, last, s.InCheck, s.SpectatorCount, s.Role)
	if s.WhiteHoldExpiresIn > 0 || s.BlackHoldExpiresIn > 0 {
		fmt.Printf("  seat holds: white %ds  black %ds\n", s.WhiteHoldExpiresIn, s.BlackHoldExpiresIn)
	}
	fmt.Printf("  white joined=%t ready=%t  black joined=%t ready=%t\n", s.WhiteJoined, s.WhiteReady, s.BlackJoined, s.BlackReady)
	fmt.Printf("  fen %s\n", s.Position)
	if s.GameOver {
		fmt.Printf("  result %s (%s)\n", s.Result, s.Termination)
	}
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
