package app

import (
	"bufio"
	"context"
	"net"
	"strings"
)

const announcePrefix = "BridgeUP:"

// ListenAnnouncements accepts connections on addr and connects every bridge
// announced with a "BridgeUP:<address>" line. An already connected bridge
// treats the announcement as a ping. The listener closes when ctx is done.
func (p *Pool) ListenAnnouncements(ctx context.Context, addr string) (net.Addr, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	p.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for bridge announcements")
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.serveAnnouncements(ctx, conn)
		}
	}()
	return ln.Addr(), nil
}

func (p *Pool) serveAnnouncements(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, announcePrefix) {
			if line != "" {
				p.logger.Debug().Str("line", line).Msg("ignoring announcement line")
			}
			continue
		}
		address := strings.TrimPrefix(line, announcePrefix)
		if _, err := p.Connect(ctx, address); err != nil {
			p.logger.Warn().Err(err).Str("bridge", address).Msg("announced bridge unreachable")
		}
	}
}
