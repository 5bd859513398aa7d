// Command wirechat-client is an interactive terminal client: it pre-checks
// the username over HTTP, opens the realtime session, prints inbound events
// and accepts slash-commands on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/api"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

func main() {
	var (
		configPath string
		serverURL  string
		wsURL      string
		username   string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "wirechat-client",
		Short:        "Terminal client for the wirechat presence server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapLog := log.New("info")
			cfg, _, err := config.Load(bootstrapLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{ServerURL: serverURL, WSURL: wsURL, LogLevel: logLevel})
			return run(cfg, username)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to config file")
	root.Flags().StringVar(&serverURL, "server", "", "HTTP base URL")
	root.Flags().StringVar(&wsURL, "ws", "", "websocket URL")
	root.Flags().StringVarP(&username, "username", "u", "", "username to log in with")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, username string) error {
	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := bufio.NewScanner(os.Stdin)
	for strings.TrimSpace(username) == "" {
		fmt.Print("username: ")
		if !reader.Scan() {
			return errors.New("no username given")
		}
		username = strings.TrimSpace(reader.Text())
	}

	httpClient := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	if err := httpClient.CheckUsername(ctx, username); err != nil {
		if errors.Is(err, api.ErrUsernameTaken) {
			return fmt.Errorf("username %q is already taken", username)
		}
		return err
	}

	done := make(chan struct{})
	term := &ui{rooms: make(map[string]proto.ChatType), http: httpClient}

	sess := session.New(username, httpClient, session.Hooks{
		OnRoomReady: func(ready proto.ChatReady) {
			term.rememberRoom(ready.ChatID, ready.ChatType)
			fmt.Printf("* %s accepted, room %s is ready (/enter %s)\n", ready.AcceptedBy, ready.ChatID, ready.ChatID)
		},
		OnForcedLogout: func(reason string) {
			fmt.Printf("* logged out: %s\n", reason)
			close(done)
		},
	}, logger, session.WithLoginGrace(cfg.LoginGrace))
	term.sess = sess

	if err := sess.Connect(ctx, cfg.WSURL); err != nil {
		return err
	}
	defer sess.Logout()

	fmt.Printf("connected to %s as %s\n", cfg.WSURL, username)
	fmt.Println("commands: /users /invite <user> [msg] /ginvite <a,b,..> [msg] /invites /accept <n> /decline <n> /enter <chat_id> /leave /quit")

	go term.printLoop(ctx, done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for reader.Scan() {
			lines <- reader.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := term.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// ui holds the bits of presentation state the session deliberately does not
// own: which room we are typing into and the chat types of rooms we know about.
type ui struct {
	sess    *session.Session
	http    *api.Client
	rooms   map[string]proto.ChatType
	current *string // chat id of the room being typed into
	printed int     // messages already printed
	lastErr string  // last login error shown
}

func (c *ui) rememberRoom(chatID string, t proto.ChatType) {
	c.rooms[chatID] = t
}

// printLoop tails the session's message log onto stdout.
func (c *ui) printLoop(ctx context.Context, done chan struct{}) {
	updates := time.NewTicker(200 * time.Millisecond)
	defer updates.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-updates.C:
			snap := c.sess.Snapshot()
			for _, msg := range snap.Messages[min(c.printed, len(snap.Messages)):] {
				switch msg.Class {
				case session.ClassSystem:
					fmt.Printf("* %s\n", msg.Content)
				case session.ClassOwn:
					fmt.Printf("you: %s\n", msg.Content)
				default:
					fmt.Printf("%s: %s\n", msg.Sender, msg.Content)
				}
			}
			c.printed = len(snap.Messages)
			if snap.LoginError != "" && snap.LoginError != c.lastErr {
				fmt.Printf("! login error: %s\n", snap.LoginError)
			}
			c.lastErr = snap.LoginError
		}
	}
}

func (c *ui) handle(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.say(line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit":
		return true
	case "/users":
		c.printUsers(ctx)
	case "/invites":
		c.printInvites()
	case "/invite":
		if len(args) < 1 {
			fmt.Println("usage: /invite <user> [message]")
			return false
		}
		chatID, ok := c.sess.SendInvite(proto.ChatPrivate, args[0], nil, strings.Join(args[1:], " "))
		if !ok {
			fmt.Println("! invite not sent (not connected?)")
			return false
		}
		c.rememberRoom(chatID, proto.PrivateChat(args[0]))
		fmt.Printf("* invited %s (room %s)\n", args[0], chatID)
	case "/ginvite":
		if len(args) < 1 {
			fmt.Println("usage: /ginvite <a,b,..> [message]")
			return false
		}
		members := strings.Split(args[0], ",")
		chatID, ok := c.sess.SendInvite(proto.ChatGroup, "", members, strings.Join(args[1:], " "))
		if !ok {
			fmt.Println("! invite not sent (not connected?)")
			return false
		}
		c.rememberRoom(chatID, proto.GroupChat(members))
		fmt.Printf("* invited %s (room %s)\n", args[0], chatID)
	case "/accept", "/decline":
		c.respond(args, cmd == "/accept")
	case "/enter":
		if len(args) != 1 {
			fmt.Println("usage: /enter <chat_id>")
			return false
		}
		c.enter(args[0])
	case "/leave":
		if c.sess.LeaveRoom() {
			c.current = nil
			fmt.Println("* left the room")
		}
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}

func (c *ui) say(text string) {
	if c.current == nil {
		fmt.Println("! not in a room; /enter a room first")
		return
	}
	t := c.rooms[*c.current]
	if !c.sess.SendMessage(text, t.Kind, t.Target, t.Members, c.current) {
		fmt.Println("! not delivered (not connected?)")
	}
}

func (c *ui) printUsers(ctx context.Context) {
	snap := c.sess.Snapshot()
	users := snap.Users
	if len(users) == 0 && !snap.Connected {
		// degraded mode: the channel is down, fall back to HTTP
		fetched, err := c.http.FetchUsers(ctx)
		if err == nil {
			users = fetched
		}
	}
	for _, u := range users {
		state := "available"
		if !u.IsAvailable {
			state = "busy"
		}
		fmt.Printf("  %-20s %s\n", u.Username, state)
	}
}

func (c *ui) printInvites() {
	snap := c.sess.Snapshot()
	if len(snap.Invites) == 0 {
		fmt.Println("  no pending invites")
		return
	}
	for i, inv := range snap.Invites {
		fmt.Printf("  [%d] from %s: %s\n", i, inv.From, inv.Message)
	}
}

func (c *ui) respond(args []string, accepted bool) {
	if len(args) != 1 {
		fmt.Println("usage: /accept|/decline <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("usage: /accept|/decline <n>")
		return
	}
	snap := c.sess.Snapshot()
	if n < 0 || n >= len(snap.Invites) {
		fmt.Println("! no such invite")
		return
	}
	inv := snap.Invites[n]
	c.sess.RespondToInvite(inv, accepted)
	if accepted && inv.ChatID != nil {
		c.rememberRoom(*inv.ChatID, inv.ChatType)
		c.enter(*inv.ChatID)
	}
}

func (c *ui) enter(chatID string) {
	t, known := c.rooms[chatID]
	if !known {
		fmt.Println("! unknown room; accept an invite or send one first")
		return
	}
	id := chatID
	if c.sess.EnterRoom(t.Kind, t.Target, t.Members, &id) {
		c.current = &id
		fmt.Printf("* entered room %s\n", chatID)
	} else {
		fmt.Println("! could not enter room")
	}
}
