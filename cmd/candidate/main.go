package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/attempt"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/gateway"
	"github.com/stemsi/exstem-runtime/internal/integrity"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/runtime"
	"github.com/stemsi/exstem-runtime/internal/terminal"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code so deferred cleanup always runs.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("exstem-candidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	examFlag := fs.String("exam", "", "Exam ID to start")
	attemptFlag := fs.String("attempt", "", "Attempt ID to resume")
	nisnFlag := fs.String("nisn", "", "Log in with this NISN (password is prompted)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	fail := func(format string, a ...interface{}) int {
		fmt.Fprintf(stderr, "exstem-candidate: "+format+"\n", a...)
		return 1
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.LoadRuntime()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// The terminal is the exam screen, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fail("open log file: %v", err)
	}
	defer logFile.Close()
	log := logger.SetupTo(logFile, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Collaborator Client ───────────────────────────────────────────
	gw := gateway.New(cfg.APIURL, log, gateway.WithToken(cfg.Token), gateway.WithStream(cfg.StreamURL))
	defer gw.Close()

	if *nisnFlag != "" {
		if err := login(ctx, gw, *nisnFlag); err != nil {
			return fail("login failed: %v", err)
		}
	}
	if gw.Token() == "" {
		return fail("no token: pass -nisn or set EXSTEM_TOKEN")
	}

	attemptID, err := resolveAttempt(ctx, gw, *examFlag, *attemptFlag)
	if err != nil {
		return fail("%v", err)
	}

	// ─── Open Terminal ─────────────────────────────────────────────────
	host, err := terminal.Open(os.Stdin, os.Stdout, terminal.MinSize{Cols: 80, Rows: 24})
	if err != nil {
		return fail("%v", err)
	}
	screen := terminal.NewScreen(os.Stdout)

	sess, err := runtime.Launch(ctx, gw, attemptID, host, screen, sessionConfig(cfg), log)
	if err != nil {
		_ = host.Close()
		return fail("load attempt: %v", err)
	}
	screen.Attach(sess.Controller)

	quit := make(chan struct{})
	input := terminal.NewInput(sess.Bus, sess.Controller, screen, sess.Monitor.Blocked, func() { close(quit) }, log)

	go func() {
		for ev := range host.ReadEvents(ctx) {
			input.Handle(ctx, ev)
		}
	}()
	go terminal.Watch(ctx, host, sess.Bus, cancel)

	// ─── Run Attempt ───────────────────────────────────────────────────
	runErr := sess.Run(ctx)
	if runErr == nil {
		showResult(ctx, sess, screen, log)
		select {
		case <-quit:
		case <-ctx.Done():
		}
	}

	_ = host.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fail("attempt stopped: %v", runErr)
	}
	if runErr != nil {
		fmt.Println("Attempt left unfinished. Run again with -attempt", attemptID, "to resume.")
	}
	return 0
}

func sessionConfig(cfg *config.Runtime) runtime.Config {
	return runtime.Config{
		Attempt: attempt.Options{
			TickInterval:     cfg.TickInterval,
			AutosaveInterval: cfg.AutosaveInterval,
			AutosaveTimeout:  cfg.AutosaveTimeout,
			FlushTimeout:     cfg.FlushTimeout,
			SubmitAttempts:   cfg.SubmitAttempts,
			SubmitBackoff:    cfg.SubmitBackoff,
			SubmitMaxBackoff: cfg.SubmitMaxBackoff,
			SubmitTimeout:    cfg.SubmitTimeout,
		},
		Integrity: integrity.Options{
			ReportTimeout:  cfg.ReportTimeout,
			WarningDisplay: cfg.WarningDisplay,
			GracePeriod:    cfg.GracePeriod,
			RestrictedKeys: cfg.RestrictedKeys,
		},
	}
}

func login(ctx context.Context, gw *gateway.Client, nisn string) error {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return err
	}
	res, err := gw.Login(ctx, nisn, string(pw))
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", res.Student.Name)
	return nil
}

func resolveAttempt(ctx context.Context, gw *gateway.Client, examFlag, attemptFlag string) (uuid.UUID, error) {
	if attemptFlag != "" {
		id, err := uuid.Parse(attemptFlag)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid -attempt: %w", err)
		}
		return id, nil
	}
	examID, err := uuid.Parse(examFlag)
	if err != nil {
		return uuid.Nil, errors.New("pass -exam to start or -attempt to resume")
	}

	fmt.Print("Start the exam now? The timer begins immediately. [y/N] ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if !strings.EqualFold(strings.TrimSpace(answer), "y") {
		return uuid.Nil, errors.New("cancelled")
	}

	started, err := gw.StartAttempt(ctx, examID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start attempt: %w", err)
	}
	return started.AttemptID, nil
}

// showResult polls briefly: the result may trail the submit acknowledgement.
func showResult(ctx context.Context, sess *runtime.Session, screen *terminal.Screen, log zerolog.Logger) {
	for i := 0; i < 5; i++ {
		res, err := sess.Result(ctx)
		if err == nil {
			screen.ShowResult(res)
			return
		}
		log.Debug().Err(err).Int("try", i+1).Msg("Result not ready")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
	screen.Notice("The result is not available yet.")
}
