// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// SyslogConfig configures NewSyslogWriter, a writer that forwards log
// output to a remote syslog collector — useful when dfw runs as a
// container/systemd unit whose stderr isn't centrally aggregated. Logger
// does not use it on its own: New writes only to Config.Output.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int // RFC 3164 facility number
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the
// conventional defaults (UDP/514) applied if it's later enabled.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "dfw",
		Facility: 1, // user-level messages
	}
}

// syslogWriter dials a remote syslog collector and writes each line as
// an RFC 3164 message. It is deliberately minimal: no reconnect-on-write
// retry loop, since a lost log line is not a reconciliation-affecting
// event and the controller's own stderr output remains authoritative.
type syslogWriter struct {
	conn     net.Conn
	tag      string
	priority int
}

// NewSyslogWriter dials cfg.Host and returns an io.Writer that forwards
// each write as one syslog message. Port, Protocol, and Tag default the
// same way DefaultSyslogConfig does when left zero.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, errors.New("logging: syslog host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 514
	}
	proto := cfg.Protocol
	if proto == "" {
		proto = "udp"
	}
	tag := cfg.Tag
	if tag == "" {
		tag = "dfw"
	}

	conn, err := net.DialTimeout(proto, fmt.Sprintf("%s:%d", cfg.Host, port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog collector: %w", err)
	}

	// severity 6 (informational) ORed into the facility, since Logger
	// itself already carries the real level in the structured message.
	return &syslogWriter{conn: conn, tag: tag, priority: cfg.Facility*8 + 6}, nil
}

func (w *syslogWriter) Write(p []byte) (int, error) {
	msg := fmt.Sprintf("<%d>%s %s: %s", w.priority, time.Now().Format(time.Stamp), w.tag, p)
	if _, err := io.WriteString(w.conn, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}
