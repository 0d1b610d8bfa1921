package report

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// Multicast sends each report as a single UDP datagram to a multicast
// group, with configurable TTL and loopback behaviour.
type Multicast struct {
	Addr     string
	Port     int
	TTL      int // 0 means "leave at the OS default"
	Loopback bool
	Logger   *logrus.Logger
}

func NewMulticast(addr string, port int, ttl int, loopback bool, logger *logrus.Logger) *Multicast {
	return &Multicast{Addr: addr, Port: port, TTL: ttl, Loopback: loopback, Logger: logger}
}

func (r *Multicast) SendReport(lines []string) {
	if len(lines) == 0 {
		return
	}
	message := joinLines(lines)
	dest := fmt.Sprintf("%s:%d", r.Addr, r.Port)

	raddr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		r.Logger.WithField("reporter", "multicast").Warnf("failed to send report: %v", err)
		return
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		r.Logger.WithField("reporter", "multicast").Warnf("failed to send report: %v", err)
		return
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if r.TTL > 0 {
		if err := pc.SetMulticastTTL(r.TTL); err != nil {
			r.Logger.WithField("reporter", "multicast").Warnf("failed to set TTL: %v", err)
		}
	}
	if err := pc.SetMulticastLoopback(r.Loopback); err != nil {
		r.Logger.WithField("reporter", "multicast").Warnf("failed to set loopback mode: %v", err)
	}

	if _, err := conn.WriteTo([]byte(message), raddr); err != nil {
		r.Logger.WithField("reporter", "multicast").Warnf("failed to send report: %v", err)
	}
}
