// Package capabilities narrows the privileges the tracer keeps once its
// socket is set up.
package capabilities

import (
	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
)

// keep is the working set for scanning: CAP_DAC_READ_SEARCH to look inside
// arbitrary users' home directories, CAP_SYS_PTRACE because another user's
// /proc/<pid>/{exe,cwd,fd,environ,maps} sit behind ptrace access-mode
// checks rather than plain DAC.
var keep = []capability.Cap{
	capability.CAP_DAC_READ_SEARCH,
	capability.CAP_SYS_PTRACE,
}

const capTypes = capability.CAPS | capability.BOUNDING

// Bound drops every capability except the ones the scanners need. The
// socket must already be bound, chmodded, and listening; none of those
// work afterwards. Unlinking the socket at shutdown still does, since the
// daemon owns the socket file and its directory.
func Bound() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return err
	}
	if err := caps.Load(); err != nil {
		return err
	}
	caps.Clear(capTypes)
	caps.Set(capTypes, keep...)
	if err := caps.Apply(capTypes); err != nil {
		return err
	}
	logrus.Debugf("capability sets bounded to %v", keep)
	return nil
}
