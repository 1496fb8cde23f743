package pim

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/dantte-lp/gopimd/internal/filter"
)

// ConfigWorker writes the protocol configuration body of one instance.
// Every line is prefixed with indent.
type ConfigWorker interface {
	WriteInstanceConfig(w io.Writer, inst *Instance, indent string) error
}

// ConfigWorkerFunc adapts a function to ConfigWorker.
type ConfigWorkerFunc func(w io.Writer, inst *Instance, indent string) error

// WriteInstanceConfig calls f(w, inst, indent).
func (f ConfigWorkerFunc) WriteInstanceConfig(w io.Writer, inst *Instance, indent string) error {
	return f(w, inst, indent)
}

// WriteConfig writes the configuration of every instance in name order.
// Non-default instances are framed by "vrf NAME" and "exit-vrf". A nil
// worker selects DefaultConfigWorker.
func (c *Controller) WriteConfig(w io.Writer, worker ConfigWorker) error {
	if worker == nil {
		worker = DefaultConfigWorker
	}
	bw := bufio.NewWriter(w)

	var err error
	c.registry.Ascend(func(inst *Instance) bool {
		if inst.name == c.defaultVRFName {
			err = worker.WriteInstanceConfig(bw, inst, "")
			return err == nil
		}

		if _, err = fmt.Fprintf(bw, "vrf %s\n", inst.name); err != nil {
			return false
		}
		if err = worker.WriteInstanceConfig(bw, inst, " "); err != nil {
			return false
		}
		_, err = io.WriteString(bw, "exit-vrf\n!\n")
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return bw.Flush()
}

// DefaultConfigWorker writes the instance settings, SSM range, MSDP,
// ssmpingd and static route configuration in FRR syntax. Values equal to
// their defaults are omitted.
var DefaultConfigWorker ConfigWorker = ConfigWorkerFunc(writeInstanceConfig)

func writeInstanceConfig(w io.Writer, inst *Instance, indent string) error {
	cw := &configWriter{w: w, indent: indent, af: "ip"}
	if inst.family == filter.AFIIPv6 {
		cw.af = "ipv6"
	}
	s := inst.settings
	def := DefaultSettings()

	if name, ok := inst.ssm.Range(); ok {
		cw.line("%s pim ssm prefix-list %s", cw.af, name)
	}
	if s.SPT.Mode == SPTInfinity {
		if s.SPT.PrefixList != "" {
			cw.line("%s pim spt-switchover infinity-and-beyond prefix-list %s", cw.af, s.SPT.PrefixList)
		} else {
			cw.line("%s pim spt-switchover infinity-and-beyond", cw.af)
		}
	}
	if s.RegisterAcceptList != "" {
		cw.line("%s pim register-accept-list %s", cw.af, s.RegisterAcceptList)
	}
	if s.KeepAlive != def.KeepAlive {
		cw.line("%s pim keep-alive-timer %d", cw.af, seconds(s.KeepAlive))
	}
	if s.RPKeepAlive != def.RPKeepAlive {
		cw.line("%s pim rp keep-alive-timer %d", cw.af, seconds(s.RPKeepAlive))
	}
	if !s.SendV6Secondary {
		cw.line("no %s pim send-v6-secondary", cw.af)
	}
	if s.ECMPRebalance {
		cw.line("%s pim ecmp rebalance", cw.af)
	} else if s.ECMP {
		cw.line("%s pim ecmp", cw.af)
	}

	if s.MSDP != def.MSDP {
		if s.MSDP.ConnectRetry != def.MSDP.ConnectRetry {
			cw.line("%s msdp timers %d %d %d", cw.af,
				seconds(s.MSDP.KeepAlive), seconds(s.MSDP.HoldTime), seconds(s.MSDP.ConnectRetry))
		} else {
			cw.line("%s msdp timers %d %d", cw.af, seconds(s.MSDP.KeepAlive), seconds(s.MSDP.HoldTime))
		}
	}
	for _, p := range inst.msdp.Peers() {
		cw.line("%s msdp peer %s source %s", cw.af, p.Addr(), p.Local())
	}

	for _, sock := range inst.ssmping.Sockets() {
		cw.line("%s ssmpingd %s", cw.af, sock.Source())
	}

	for _, r := range inst.static.Routes() {
		if r.Source.IsValid() {
			cw.line("%s mroute %s %s %s %s", cw.af, r.IIF, r.OIF, r.Group, r.Source)
		} else {
			cw.line("%s mroute %s %s %s", cw.af, r.IIF, r.OIF, r.Group)
		}
	}
	return cw.err
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }

// configWriter remembers the first write error.
type configWriter struct {
	w      io.Writer
	indent string
	af     string
	err    error
}

func (cw *configWriter) line(format string, args ...any) {
	if cw.err != nil {
		return
	}
	_, cw.err = fmt.Fprintf(cw.w, cw.indent+format+"\n", args...)
}
