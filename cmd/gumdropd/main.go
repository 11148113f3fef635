// Command gumdropd is a reference server built on gumdrop's reactor and
// protocol packages (spec §4.E's Listener bound to a HandlerFactory): one
// listener accepts TCP connections, sniffs HTTP/2 vs HTTP/1.1, and answers
// plain requests, WebSocket upgrades, and HTTP/2 streams with a fixed demo
// response. It exists to exercise pkg/listener, pkg/http2 and
// pkg/websocket together end to end, the way the teacher's cmd/protocol_test
// exercised pkg/client and pkg/transport together.
package main

import (
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gumdrop/gumdrop/pkg/conn"
	"github.com/gumdrop/gumdrop/pkg/listener"
	"github.com/gumdrop/gumdrop/pkg/tlsengine"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := listener.DefaultConfig(8080)
	var clientAuth string
	var alpn []string

	cmd := &cobra.Command{
		Use:   "gumdropd",
		Short: "gumdrop reference server: HTTP/1.1, HTTP/2 and WebSocket over one listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ClientAuth = tlsengine.ClientAuthMode(clientAuth)
			cfg.ALPN = alpn
			return serve(log, cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to bind")
	flags.BoolVar(&cfg.Secure, "secure", cfg.Secure, "terminate TLS (requires --keystore-file)")
	flags.StringVar(&cfg.KeystoreFile, "keystore-file", "", "PEM or PKCS#12 keystore path")
	flags.StringVar(&cfg.KeystorePass, "keystore-pass", "", "PKCS#12 keystore password")
	flags.StringVar(&clientAuth, "client-auth", string(cfg.ClientAuth), "none|want|need")
	flags.StringSliceVar(&alpn, "alpn", cfg.ALPN, "ALPN protocols offered during the TLS handshake")
	flags.IntVar(&cfg.MaxConcurrentPerIP, "max-concurrent-per-ip", cfg.MaxConcurrentPerIP, "0 disables the cap")
	flags.StringVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "<count>/<duration>, e.g. 100/1s; empty disables")
	flags.IntVar(&cfg.IdleTimeoutMs, "idle-timeout-ms", cfg.IdleTimeoutMs, "close idle connections after this many ms")
	flags.IntVar(&cfg.Loops, "loops", cfg.Loops, "reactor.SelectorLoop worker count")

	return cmd
}

func serve(log *logrus.Logger, cfg listener.Config) error {
	factory := func(remote net.Addr) conn.Handler {
		return newProtocolHandler(log, remote)
	}

	ln, err := listener.New(cfg, factory, log)
	if err != nil {
		return err
	}

	if err := ln.Listen(); err != nil {
		return err
	}
	log.WithField("addr", ln.Addr()).WithField("alpn", strings.Join(cfg.ALPN, ",")).Info("gumdropd: listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("gumdropd: shutting down")
	return ln.Close()
}
