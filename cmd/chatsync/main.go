package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fluxchat/go-chatsync/pkg/config"
	"github.com/fluxchat/go-chatsync/pkg/conn"
	"github.com/fluxchat/go-chatsync/pkg/session"
	"github.com/fluxchat/go-chatsync/pkg/stats"
	"github.com/fluxchat/go-chatsync/pkg/types"
)

var (
	serverURL   string
	displayName string
	color       string
	configPath  string
)

func main() {
	// .env is optional; flags and config file take precedence
	_ = godotenv.Load()

	flag.StringVar(&serverURL, "server-url", os.Getenv("CHATSYNC_SERVER_URL"), "chat server websocket URL")
	flag.StringVar(&displayName, "name", os.Getenv("CHATSYNC_NAME"), "display name")
	flag.StringVar(&color, "color", os.Getenv("CHATSYNC_COLOR"), "display color")
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatsync] ", log.LstdFlags)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.FromFile(configPath)
	} else {
		cfg, err = config.NewConfig(serverURL, displayName, color)
	}
	if err != nil {
		logger.Fatal("config: ", err)
	}

	statsUpdater := stats.NewStatsUpdater()
	statsUpdater.Run()
	defer statsUpdater.Stop()

	renderer := &terminalRenderer{out: os.Stdout}

	sess, err := session.NewSession(cfg, renderer, nil, logger, statsUpdater)
	if err != nil {
		logger.Fatal("new session: ", err)
	}

	sess.Start()

	go readInput(sess, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Printf("received signal: %s\n", sig)

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := sess.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("session shutdown:", err)
	}

	logger.Println("shutdown complete")
}

func readInput(sess *session.Session, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := sess.SendMessage(line, nil, ""); err != nil {
			logger.Println("send:", err)
		}
	}
}

// terminalRenderer is a minimal session.EventListener printing the session
// stream to stdout. A real host shell projects these into its own view.
type terminalRenderer struct {
	out *os.File
}

func (r *terminalRenderer) OnHistory(messages []types.Message) {
	for _, msg := range messages {
		r.printMessage(msg)
	}
}

func (r *terminalRenderer) OnMessage(msg types.Message) {
	r.printMessage(msg)
}

func (r *terminalRenderer) OnMessageEdited(msg types.Message) {
	fmt.Fprintf(r.out, "%s (edited): %s\n", msg.AuthorName, msg.Content)
}

func (r *terminalRenderer) OnMessageDeleted(msg types.Message) {
	fmt.Fprintf(r.out, "%s: %s\n", msg.AuthorName, msg.Content)
}

func (r *terminalRenderer) OnSystemMessage(content string) {
	fmt.Fprintf(r.out, "* %s\n", content)
}

func (r *terminalRenderer) OnUserList(users []types.User) {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	fmt.Fprintf(r.out, "* online: %s\n", strings.Join(names, ", "))
}

func (r *terminalRenderer) OnCursors(map[string]types.CursorPosition) {
	// no cursor surface in a line-based terminal
}

func (r *terminalRenderer) OnStatus(state conn.State, message string) {
	if message != "" {
		fmt.Fprintf(r.out, "* %s\n", message)
	}
}

func (r *terminalRenderer) OnMuted(until time.Time) {
	fmt.Fprintf(r.out, "* you are sending too fast, muted until %s\n", until.Format(time.Kitchen))
}

func (r *terminalRenderer) OnUnmuted() {
	fmt.Fprintln(r.out, "* you can send messages again")
}

func (r *terminalRenderer) printMessage(msg types.Message) {
	fmt.Fprintf(r.out, "%s: %s\n", msg.AuthorName, msg.Content)
}
