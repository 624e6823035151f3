package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode"

	"github.com/templui/kickstart/internal/kickstart"
)

const (
	minVLANID = 1
	maxVLANID = 4094
)

// KickstartRequest is the body of POST /ks.
type KickstartRequest struct {
	Hostname       string   `json:"hostname"`
	RootPW         string   `json:"rootpw"`
	Disk           string   `json:"disk"`
	Device         string   `json:"device"`
	IP             string   `json:"ip"`
	Netmask        string   `json:"netmask"`
	Gateway        string   `json:"gateway"`
	Nameserver     []string `json:"nameserver"`
	VLANID         *int     `json:"vlanid"`
	AddVMPortGroup *bool    `json:"addvmportgroup"`
	PreserveVMFS   bool     `json:"preservevmfs"`
	AllowedIP      string   `json:"allowed_ip"`
}

// DecodeKickstartRequest parses and validates a request body. Any
// problem with the input is reported as FieldErrors.
func DecodeKickstartRequest(body []byte) (*KickstartRequest, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, FieldErrors{"body": "must be a JSON object"}
	}
	if err := validateShape(doc); err != nil {
		return nil, err
	}

	var req KickstartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, FieldErrors{typeErr.Field: "must be a whole number"}
		}
		return nil, FieldErrors{"body": "must be a JSON object"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks field contents and normalizes addresses in place.
func (r *KickstartRequest) Validate() error {
	errs := FieldErrors{}

	if err := ValidateHostname(r.Hostname); err != nil {
		errs.add("hostname", err.Error())
	}
	if err := validateToken("rootpw", r.RootPW); err != nil {
		errs.add("rootpw", err.Error())
	}
	if err := validateToken("disk", r.Disk); err != nil {
		errs.add("disk", err.Error())
	}
	if r.Device == "" {
		r.Device = kickstart.DefaultDevice
	} else if err := validateToken("device", r.Device); err != nil {
		errs.add("device", err.Error())
	}

	r.IP = checkIPv4(errs, "ip", r.IP)
	r.Gateway = checkIPv4(errs, "gateway", r.Gateway)
	if err := ValidateNetmask(r.Netmask); err != nil {
		errs.add("netmask", err.Error())
	}

	if len(r.Nameserver) == 0 {
		errs.add("nameserver", "at least one nameserver is required")
	}
	for i, ns := range r.Nameserver {
		r.Nameserver[i] = checkIPv4(errs, "nameserver", ns)
	}

	if r.VLANID != nil && (*r.VLANID < minVLANID || *r.VLANID > maxVLANID) {
		errs.add("vlanid", fmt.Sprintf("must be between %d and %d", minVLANID, maxVLANID))
	}

	allowed, err := ParseIP(r.AllowedIP)
	if err != nil {
		errs.add("allowed_ip", err.Error())
	} else {
		r.AllowedIP = allowed.String()
	}

	return errs.orNil()
}

// Params converts a validated request into renderer input.
func (r *KickstartRequest) Params() kickstart.Params {
	addPortGroup := true
	if r.AddVMPortGroup != nil {
		addPortGroup = *r.AddVMPortGroup
	}
	return kickstart.Params{
		Hostname:       r.Hostname,
		RootPW:         r.RootPW,
		Disk:           r.Disk,
		Device:         r.Device,
		IP:             r.IP,
		Netmask:        r.Netmask,
		Gateway:        r.Gateway,
		Nameservers:    r.Nameserver,
		VLANID:         r.VLANID,
		AddVMPortGroup: addPortGroup,
		PreserveVMFS:   r.PreserveVMFS,
	}
}

func checkIPv4(errs FieldErrors, field, value string) string {
	addr, err := ParseIPv4(value)
	if err != nil {
		errs.add(field, err.Error())
		return value
	}
	return addr.String()
}

// ParseIP accepts an IPv4 or IPv6 address without zone. IPv4-mapped IPv6
// addresses are unmapped.
func ParseIP(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, fmt.Errorf("address is required")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("not a valid IP address")
	}
	return addr.Unmap(), nil
}

// ParseIPv4 accepts dotted-quad IPv4 addresses only.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := ParseIP(s)
	if err != nil {
		return addr, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not a valid IPv4 address")
	}
	return addr, nil
}

// ValidateNetmask requires a contiguous IPv4 mask such as 255.255.255.0.
func ValidateNetmask(s string) error {
	addr, err := ParseIPv4(s)
	if err != nil {
		return err
	}
	b := addr.As4()
	if _, bits := net.IPMask(b[:]).Size(); bits == 0 {
		return fmt.Errorf("not a contiguous netmask")
	}
	return nil
}

// ValidateHostname validates an RFC 1123 host name.
func ValidateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname is required")
	}
	if len(name) > 253 {
		return fmt.Errorf("hostname is too long (max 253 characters)")
	}
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("hostname labels must be 1 to 63 characters")
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("hostname labels must not start or end with a hyphen")
		}
		for _, c := range label {
			if c > unicode.MaxASCII || !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '-') {
				return fmt.Errorf("hostname may only contain letters, digits and hyphens")
			}
		}
	}
	return nil
}

// validateToken rejects values that would break a kickstart line.
func validateToken(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%s must not contain whitespace", field)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s must not contain control characters", field)
	}
	return nil
}
