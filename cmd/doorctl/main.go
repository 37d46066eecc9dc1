// Command doorctl runs a door check-in station on a terminal. It reads one
// scan per line from stdin, which is what keyboard-wedge QR scanners produce.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/scanner"
)

var (
	admit   = color.New(color.FgBlack, color.BgGreen, color.Bold)
	refuse  = color.New(color.FgWhite, color.BgRed, color.Bold)
	warn    = color.New(color.FgYellow)
	dimText = color.New(color.Faint)
)

func main() {
	var (
		apiURL   = pflag.String("api", envOr("BOOM_API_URL", "http://localhost:8080"), "API base URL")
		operator = pflag.StringP("operator", "o", envOr("BOOM_OPERATOR", "door"), "operator name recorded on check-in")
		device   = pflag.StringP("device", "d", envOr("BOOM_DEVICE", hostname()), "device label recorded on check-in")
		timeout  = pflag.Duration("timeout", 10*time.Second, "per request timeout")
		noColor  = pflag.Bool("no-color", false, "disable colored output")
	)
	pflag.Parse()
	if *noColor {
		color.NoColor = true
	}

	password := os.Getenv("BOOM_DOOR_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "BOOM_DOOR_PASSWORD is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := scanner.NewClient(*apiURL, nil)
	lctx, cancel := context.WithTimeout(ctx, *timeout)
	session, err := client.Login(lctx, password, *operator)
	cancel()
	if err != nil {
		refuse.Fprintf(os.Stderr, " login failed: %v \n", err)
		os.Exit(1)
	}
	dimText.Printf("logged in as %s on %s, session valid until %s\n", session.Operator, *device, session.ExpiresAt.Local().Format("15:04"))

	station := &station{
		session: scanner.NewSession(client, *device),
		out:     os.Stdout,
		timeout: *timeout,
	}
	if err := station.run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		refuse.Fprintf(os.Stderr, " %v \n", err)
		os.Exit(1)
	}
}

type station struct {
	session *scanner.Session
	out     io.Writer
	timeout time.Duration
}

// run alternates between scanning and confirming. While a VALID ticket waits,
// "y" admits it; any other line cancels, and a non-empty line other than "n"
// is treated as the next scan.
func (s *station) run(ctx context.Context, in io.Reader) error {
	lines := bufio.NewScanner(in)
	fmt.Fprintln(s.out, "scan a ticket or type an order id")
	for lines.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(lines.Text())

		if _, waiting := s.session.Pending(); waiting {
			if strings.EqualFold(line, "y") {
				s.confirm(ctx)
				continue
			}
			s.session.Reset()
			warn.Fprintln(s.out, "cancelled, not admitted")
			if line == "" || strings.EqualFold(line, "n") {
				continue
			}
		}
		if line == "" {
			continue
		}
		s.scan(ctx, line)
	}
	return lines.Err()
}

func (s *station) scan(ctx context.Context, payload string) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.session.Scan(rctx, payload)
	if err != nil {
		refuse.Fprintf(s.out, " DO NOT ADMIT ")
		fmt.Fprintf(s.out, " %v\n", err)
		return
	}
	if res.Verdict != domain.VerdictValid {
		refuse.Fprintf(s.out, " DO NOT ADMIT ")
		fmt.Fprintf(s.out, " %s\n", res.Message)
		return
	}
	o := res.Order
	fmt.Fprintf(s.out, "%s%s  %s  %s x%d\n", domain.ReferencePrefix, o.ID, o.CustomerName, o.TicketName, o.Quantity)
	for _, a := range o.Attendees {
		dimText.Fprintf(s.out, "  + %s\n", a)
	}
	warn.Fprint(s.out, "admit? [y/N] ")
}

func (s *station) confirm(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.session.Confirm(rctx)
	switch {
	case err != nil:
		refuse.Fprintf(s.out, " DO NOT ADMIT ")
		fmt.Fprintf(s.out, " %v\n", err)
	case !res.Admit:
		refuse.Fprintf(s.out, " DO NOT ADMIT ")
		fmt.Fprintf(s.out, " %s\n", res.Message)
	default:
		admit.Fprintf(s.out, " ADMIT ")
		fmt.Fprintf(s.out, " %s%s checked in\n", domain.ReferencePrefix, res.Order.ID)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "door"
	}
	return h
}
