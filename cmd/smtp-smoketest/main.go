/*
smtp-smoketest is a minimal command line program that dials an SMTP server,
exchanges a greeting and a NOOP, then closes the connection cleanly. It
exists to give the smtp package a runnable entry point for manual end-to-end
checks; it is not a mail-sending client and carries no DATA-phase support.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/relaywire/smtpclient/internal/smtplog"
	"github.com/relaywire/smtpclient/smtp"
)

var logger = &smtplog.Logger{ComponentName: "smtp-smoketest"}

func main() {
	var host string
	var port int
	var timeout time.Duration
	flag.StringVar(&host, "host", "127.0.0.1", "(Optional) SMTP server host or IP address")
	flag.IntVar(&port, "port", 2525, "(Optional) SMTP server port")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "(Optional) dial and round-trip timeout")
	flag.Parse()

	if err := run(host, port, timeout); err != nil {
		logger.Warning("run", nil, err, "smoke test failed")
		os.Exit(1)
	}
	fmt.Println("smoke test OK")
}

func run(host string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg := smtp.Config{
		Security: smtp.Plain(),
		Server:   smtp.ServerConfig{Host: host, Port: port, Timeout: timeout},
		Logger:   logger,
	}
	conn, err := smtp.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Write(ctx, smtp.SingleOutbound(smtp.NOOP())); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
