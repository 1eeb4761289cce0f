package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"convo-lab/domain"
	"convo-lab/infrastructure/grpc/client"
	"convo-lab/projection"
	"convo-lab/runtime"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress      string        `env:"CONVO_SERVER_ADDR,default=localhost:8080"`
	LogLevel           string        `env:"LOG_LEVEL,default=WARN"`
	Email              string        `env:"CONVO_EMAIL,required=true"`
	Password           string        `env:"CONVO_PASSWORD,required=true"`
	FullName           string        `env:"CONVO_FULL_NAME"`
	Role               string        `env:"CONVO_ROLE,default=customer"`
	Register           bool          `env:"CONVO_REGISTER,default=false"`
	SubscriptionBuffer int           `env:"SUBSCRIPTION_BUFFER,default=64"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	RefreshInterval    time.Duration `env:"REFRESH_INTERVAL,default=300ms"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run signs in, opens a session over the Watch stream and runs the prompt until
// stdin closes or the process is interrupted.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connection with per call bearer token.
	credentials := client.NewTokenCredentials()
	conn, err := grpc.NewClient(config.ServerAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(credentials),
	)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()
	chat := client.NewChatClient(conn, credentials)

	// 3. Sign in.
	var userID domain.UserID
	if config.Register {
		userID, err = chat.Register(ctx, config.Email, config.Password, config.FullName, domain.Role(config.Role))
	} else {
		userID, err = chat.Login(ctx, config.Email, config.Password)
	}
	if err != nil {
		return exitRuntime, fmt.Errorf("sign in failed: %w", err)
	}

	// 4. Session over the remote change bus.
	remote := client.NewRemoteBus(chat.Service(), log, config.SubscriptionBuffer)
	defer remote.Close()
	session := runtime.NewSession(ctx, log, userID, chat, remote, config.RestartInterval)
	defer session.Close()
	if _, err := session.OpenConversationList(ctx); err != nil {
		return exitRuntime, fmt.Errorf("watch conversations: %w", err)
	}

	color.Green.Printf(">>> Signed in as %s on %s\n", userID, config.ServerAddress)
	printHelp()

	p := &prompt{log: log, session: session, chat: chat, user: userID, printed: map[string]struct{}{}}
	go p.refresh(ctx, config.RefreshInterval)
	if err := p.loop(ctx, os.Stdin); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

func printHelp() {
	color.Cyan.Println("/list                      conversations")
	color.Cyan.Println("/start <user> [request]    start or reuse a conversation")
	color.Cyan.Println("/open <conversation>       open a conversation")
	color.Cyan.Println("/read                      mark the open conversation as read")
	color.Cyan.Println("/quit                      leave")
	color.Cyan.Println("anything else is sent to the open conversation")
}

type prompt struct {
	log     *slog.Logger
	session *runtime.Session
	chat    *client.ChatClient
	user    domain.UserID

	mu      sync.Mutex
	current domain.ConversationID
	release func()
	printed map[string]struct{}
}

func (p *prompt) conversation() domain.ConversationID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *prompt) loop(ctx context.Context, in *os.File) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := p.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (p *prompt) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/list":
		p.list(ctx)
	case fields[0] == "/start" && len(fields) >= 2:
		p.start(ctx, domain.UserID(fields[1]), lo.Ternary(len(fields) > 2, lo.ToPtr(strings.Join(fields[2:], " ")), nil))
	case fields[0] == "/open" && len(fields) == 2:
		p.open(ctx, domain.ConversationID(fields[1]))
	case line == "/read":
		p.markRead(ctx)
	case strings.HasPrefix(line, "/"):
		printHelp()
	default:
		p.send(ctx, line)
	}
	return false
}

func (p *prompt) list(ctx context.Context) {
	conversations, err := p.session.Conversations(ctx)
	if err != nil {
		color.Red.Printf("list failed: %v\n", err)
		return
	}
	for _, c := range conversations {
		counterpart := lo.Ternary(c.CustomerID == p.user, c.ProviderProfile.FullName, c.CustomerProfile.FullName)
		color.Yellow.Printf("%s  %-20s %s\n", c.ID, counterpart, lo.FromPtr(c.LastMessage))
	}
}

func (p *prompt) start(ctx context.Context, counterpart domain.UserID, serviceRequestID *string) {
	cmd := domain.StartConversationCommand{CustomerID: p.user, ProviderID: counterpart, ServiceRequestID: serviceRequestID}
	conversation, err := p.chat.StartConversation(ctx, cmd)
	if err != nil {
		color.Red.Printf("start failed: %v\n", err)
		return
	}
	p.open(ctx, conversation.ID)
}

func (p *prompt) open(ctx context.Context, id domain.ConversationID) {
	release, err := p.session.OpenConversation(ctx, id)
	if err != nil {
		color.Red.Printf("open failed: %v\n", err)
		return
	}
	p.mu.Lock()
	if p.release != nil {
		p.release()
	}
	p.current, p.release = id, release
	p.mu.Unlock()
	color.Green.Printf(">>> %s\n", id)
	p.printNew(ctx)
}

func (p *prompt) send(ctx context.Context, content string) {
	id := p.conversation()
	if id == "" {
		color.Red.Println("no conversation open")
		return
	}
	result := p.session.Send(ctx, id, content)
	if result.Failed() {
		color.Red.Printf("not sent (%v), draft kept: %s\n", result.Err, result.Draft)
	}
}

func (p *prompt) markRead(ctx context.Context) {
	id := p.conversation()
	if id == "" {
		return
	}
	entries, err := p.session.Messages(ctx, id)
	if err != nil {
		color.Red.Printf("read failed: %v\n", err)
		return
	}
	for _, e := range entries {
		if e.Message != nil && e.Message.SenderID != p.user && e.Message.ReadAt == nil {
			if _, err := p.chat.MarkRead(ctx, e.Message.ID); err != nil {
				p.log.Warn("Mark read failed", "message", e.Message.ID, "error", err)
			}
		}
	}
}

// refresh prints new committed messages of the open conversation. Reads are served
// from the session cache, the network is hit only after an invalidation.
func (p *prompt) refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.printNew(ctx)
		}
	}
}

func (p *prompt) printNew(ctx context.Context) {
	id := p.conversation()
	if id == "" {
		return
	}
	entries, err := p.session.Messages(ctx, id)
	if err != nil {
		p.log.Debug("Refresh failed", "conversation", id, "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		if e.State != projection.StateCommitted {
			continue
		}
		key := e.Message.ID.String()
		if _, ok := p.printed[key]; ok {
			continue
		}
		p.printed[key] = struct{}{}
		printer := lo.Ternary(e.Message.SenderID == p.user, color.Gray, color.White)
		printer.Printf("[%s] %s: %s\n", e.Message.CreatedAt.Local().Format("15:04:05"), e.Message.SenderID, e.Content)
	}
}
