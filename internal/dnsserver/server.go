// Package dnsserver implements component C7: one UDP listener bound to
// a single plugin chain. It reuses miekg/dns's dns.Server the way the
// teacher's core/dnsserver.Server does (ActivateAndServe + Shutdown),
// trimmed to the single-chain-per-listener model SPEC_FULL.md calls
// for — no zone multiplexing, no Caddy/tailscale integration.
package dnsserver

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/dnswasm/dnswasm/internal/chain"
	"github.com/dnswasm/dnswasm/internal/dnslog"
	"github.com/dnswasm/dnswasm/internal/metrics"
)

// Server serves one listen address through one plugin chain.
type Server struct {
	addr  string
	chain *chain.Chain

	dnsServer *dns.Server
	log       *zap.SugaredLogger
}

// New builds a Server bound to the given chain. The UDP socket is not
// opened until Serve is called.
func New(addr string, c *chain.Chain) *Server {
	return &Server{
		addr:  addr,
		chain: c,
		log:   dnslog.New("dnsserver." + addr),
	}
}

// Serve opens the UDP socket and blocks, serving queries until Stop is
// called or the socket errors out.
func (s *Server) Serve() error {
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		s.handle(w, r)
	})

	s.dnsServer = &dns.Server{
		Addr:    s.addr,
		Net:     "udp",
		Handler: handler,
	}

	s.log.Infow("listening", "addr", s.addr)
	err := s.dnsServer.ListenAndServe()
	if err != nil {
		return fmt.Errorf("dnsserver: %s: %w", s.addr, err)
	}
	return nil
}

// Stop gracefully shuts the listener down, waiting for in-flight
// handlers the way the teacher's Server.Stop drains s.dnsWg before
// closing — miekg/dns's own Shutdown already waits for ServeDNS
// handlers registered through its internal wait group, so no separate
// barrier is needed here.
func (s *Server) Stop(ctx context.Context) error {
	if s.dnsServer == nil {
		return nil
	}
	return s.dnsServer.ShutdownContext(ctx)
}

func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	start := time.Now()
	metrics.QueriesTotal.WithLabelValues(s.addr).Inc()

	packet, err := r.Pack()
	if err != nil {
		s.log.Warnw("failed to repack inbound query", "error", err)
		return
	}

	respMsg, _, err := s.chain.HandleDNS(context.Background(), r, packet)
	metrics.ChainDurationSeconds.WithLabelValues(s.addr).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Warnw("plugin chain failed", "error", err)
		metrics.ServfailTotal.WithLabelValues(s.addr).Inc()
		respMsg = failMsg(r)
	} else if respMsg.Rcode == dns.RcodeServerFailure {
		metrics.ServfailTotal.WithLabelValues(s.addr).Inc()
	}

	if err := w.WriteMsg(respMsg); err != nil {
		s.log.Warnw("failed to write response", "error", err)
	}
}

func failMsg(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeServerFailure)
	resp.RecursionDesired = req.RecursionDesired
	resp.AuthenticatedData = req.AuthenticatedData
	return resp
}
