package kickstart

import (
	"fmt"
	"strings"
)

// DefaultDevice is the uplink used when the request omits one.
const DefaultDevice = "vmnic0"

// Params holds an already validated set of kickstart inputs.
type Params struct {
	Hostname       string
	RootPW         string // crypted, passed through verbatim
	Disk           string
	Device         string
	IP             string
	Netmask        string
	Gateway        string
	Nameservers    []string
	VLANID         *int // nil = omit --vlanid
	AddVMPortGroup bool
	PreserveVMFS   bool
}

// Render builds the ESXi kickstart script for p. Line order is fixed and
// the output always ends with a newline.
func Render(p Params) string {
	device := p.Device
	if device == "" {
		device = DefaultDevice
	}

	var b strings.Builder
	b.WriteString("vmaccepteula\n")
	fmt.Fprintf(&b, "rootpw --iscrypted %s\n", p.RootPW)

	fmt.Fprintf(&b, "install --disk=%s", p.Disk)
	if p.PreserveVMFS {
		b.WriteString(" --preservevmfs")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "network --bootproto=static --device=%s --ip=%s --gateway=%s --nameserver=%s --netmask=%s --hostname=%s --addvmportgroup=%d",
		device,
		p.IP,
		p.Gateway,
		strings.Join(p.Nameservers, ","),
		p.Netmask,
		p.Hostname,
		boolToInt(p.AddVMPortGroup),
	)
	if p.VLANID != nil {
		fmt.Fprintf(&b, " --vlanid=%d", *p.VLANID)
	}
	b.WriteString("\n")

	b.WriteString("reboot\n")
	return b.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
