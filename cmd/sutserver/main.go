package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"refinery/sutserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9100", "listen address")
	delay := flag.Duration("delay", 0, "artificial delay before every reply")
	failRate := flag.Float64("fail-rate", 0, "fraction of commands answered with ev_error (0.0-1.0)")
	echo := flag.Bool("echo", true, "answer unmatched commands with ev_echo")
	var replies replyFlags
	flag.Var(&replies, "reply", "command=event reply mapping, repeatable (e.g. -reply 'cmd_open=ev_opened {\"ok\":true}')")
	flag.Parse()

	if *failRate < 0 || *failRate > 1 {
		fmt.Fprintln(os.Stderr, "error: -fail-rate must be between 0.0 and 1.0")
		os.Exit(2)
	}

	server := sutserver.NewServer(sutserver.Options{
		Addr:     *addr,
		Delay:    *delay,
		FailRate: *failRate,
		Echo:     *echo,
		Replies:  replies.m,
	})
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SUT simulator listening on %s\n", server.Addr())
	if *delay > 0 {
		fmt.Printf("  delay: %v\n", *delay)
	}
	if *failRate > 0 {
		fmt.Printf("  fail rate: %.0f%%\n", *failRate*100)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	_ = server.Stop()
	fmt.Printf("handled %d command(s)\n", server.Requests())
}

// replyFlags accumulates repeated -reply command=event mappings.
type replyFlags struct {
	m map[string][]string
}

func (r *replyFlags) String() string {
	return fmt.Sprintf("%v", r.m)
}

func (r *replyFlags) Set(value string) error {
	cmd, event, ok := strings.Cut(value, "=")
	if !ok || cmd == "" {
		return fmt.Errorf("reply %q: want command=event", value)
	}
	if r.m == nil {
		r.m = make(map[string][]string)
	}
	r.m[cmd] = append(r.m[cmd], event)
	return nil
}
