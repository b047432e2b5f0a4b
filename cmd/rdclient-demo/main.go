// Command rdclient-demo drives a single remote-desktop connection from the
// command line: it resolves a startup address, connects, and prints quality
// metrics until interrupted. It does not run the login exchange; the
// -password flag is parsed but not used.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rdclient"
	"rdclient/internal/config"
	"rdclient/internal/protocol"
)

// parseStartupAddr scans args for a rdp:// URL and returns the host:port.
// Returns "" if no rdp:// argument is found or if the addr portion is empty.
func parseStartupAddr(args []string) string {
	const scheme = "rdp://"
	for _, arg := range args {
		if strings.HasPrefix(arg, scheme) {
			addr := strings.TrimPrefix(arg, scheme)
			addr = strings.TrimRight(addr, "/")
			return addr
		}
	}
	return ""
}

func main() {
	key := flag.String("key", "", "rendezvous public key")
	token := flag.String("token", "", "rendezvous relay token")
	password := flag.String("password", "", "one-shot password, if not stored")
	flag.Parse()

	addr := parseStartupAddr(os.Args[1:])
	if addr == "" && flag.NArg() > 0 {
		addr = flag.Arg(0)
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "usage: rdclient-demo [--key K --token T] <peer-id|rdp://host:port>")
		os.Exit(2)
	}

	store := config.Load()
	session := rdclient.NewSession(addr, store, nil)
	session.OnStatus = func(s string) { log.Printf("[status] %s", s) }
	session.OnLoginError = func(e rdclient.LoginError) { log.Printf("[login] %s: %s", e.Title, e.Text) }
	session.OnDisconnected = func(reason string) { log.Printf("[disconnected] %s", reason) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Connect(ctx, *key, *token, protocol.ConnType("")); err != nil {
		log.Fatalf("connect: %v", err)
	}
	_ = password

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			session.Disconnect("interrupted")
			return
		case <-ticker.C:
			m := session.Metrics()
			log.Printf("[metrics] quality=%s rtt=%.1fms loss=%.3f bitrate=%dkbps", m.QualityLevel, m.RTTMs, m.PacketLoss, m.OpusTargetKbps)
		}
	}
}
