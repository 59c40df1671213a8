// Command dmclient is a terminal direct-message client.
//
//	dmclient -server http://localhost:8090 -user alice -peer bob
//
// The bearer token comes from -token or DM_TOKEN. Lines typed on stdin are
// sent to the peer; "/read" acknowledges received messages, "/quit" exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/damoang/angple-messenger/internal/client"
	"github.com/damoang/angple-messenger/internal/config"
	"github.com/damoang/angple-messenger/internal/conversation"
	"github.com/damoang/angple-messenger/internal/domain"
	pkglogger "github.com/damoang/angple-messenger/pkg/logger"
)

func main() {
	config.LoadDotEnv()

	server := flag.String("server", envOr("DM_SERVER", "http://localhost:8090"), "messenger base URL")
	token := flag.String("token", os.Getenv("DM_TOKEN"), "bearer token")
	user := flag.String("user", os.Getenv("DM_USER"), "own user id (must match the token)")
	peer := flag.String("peer", "", "user id to talk to")
	history := flag.Int("history", 50, "messages loaded when the conversation opens")
	flag.Parse()

	pkglogger.InitStructured("local")
	pkglogger.SetLevel("warn")
	log := pkglogger.GetLogger()

	if *user == "" || *peer == "" || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*server, *token, *user)
	r := &renderer{out: os.Stdout, self: *user, peer: *peer, seen: make(map[uint64]bool)}
	rec := conversation.New(*user, *peer, api, api.Channel(),
		conversation.WithHistoryLimit(*history),
		conversation.WithPresence(api),
		conversation.OnChange(r.render),
	)

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := rec.Open(openCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("could not open conversation")
	}
	defer rec.Close()
	r.render(rec.View())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return
			case line == "/read":
				markRead(ctx, api, rec, *user)
			default:
				// Input is blocked until the send settles; the message shows
				// up once its echo arrives.
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if _, err := api.Send(sendCtx, *peer, line); err != nil {
					fmt.Fprintf(os.Stderr, "! not sent: %v\n", err)
				}
				cancel()
			}
		}
	}
}

func markRead(ctx context.Context, api *client.Client, rec *conversation.Reconciler, self string) {
	for _, m := range rec.Messages() {
		if m.ReceiverID != self || m.IsRead {
			continue
		}
		if _, err := api.MarkAsRead(ctx, m.ID); err != nil {
			fmt.Fprintf(os.Stderr, "! read %d: %v\n", m.ID, err)
		}
	}
}

// renderer prints the transcript in view order and presence changes as status lines
type renderer struct {
	mu         sync.Mutex
	out        io.Writer
	seen       map[uint64]bool
	self       string
	peer       string
	peerOnline *bool
	degraded   bool
}

func (r *renderer) render(v conversation.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A late message that sorts before printed ones forces a full redraw
	appendOnly := true
	fresh := false
	for _, m := range v.Messages {
		if !r.seen[m.ID] {
			fresh = true
		} else if fresh {
			appendOnly = false
			break
		}
	}
	if !appendOnly {
		fmt.Fprint(r.out, "\033[H\033[2J")
		clear(r.seen)
		r.peerOnline = nil
	}
	for _, m := range v.Messages {
		if r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true
		fmt.Fprintln(r.out, formatMessage(m, r.self))
	}

	online := false
	for _, u := range v.Online {
		if u == r.peer {
			online = true
			break
		}
	}
	if r.peerOnline == nil || *r.peerOnline != online {
		r.peerOnline = &online
		state := "offline"
		if online {
			state = "online"
		}
		fmt.Fprintf(r.out, "-- %s is %s\n", r.peer, state)
	}

	if v.Degraded != nil && !r.degraded {
		r.degraded = true
		fmt.Fprintf(os.Stderr, "-- live updates unavailable: %v\n", v.Degraded)
	}
}

func formatMessage(m *domain.Message, self string) string {
	who := m.SenderID
	if who == self {
		who = "me"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
