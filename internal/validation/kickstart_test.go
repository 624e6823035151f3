package validation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/kickstart/internal/kickstart"
)

const esx01 = `{
	"hostname": "esx01",
	"rootpw": "XYZ",
	"disk": "mpx.vmhba0",
	"ip": "10.0.0.5",
	"netmask": "255.255.255.0",
	"gateway": "10.0.0.1",
	"nameserver": ["8.8.8.8", "8.8.4.4"],
	"allowed_ip": "10.0.0.9"
}`

func requireFieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	return fields
}

func TestDecodeKickstartRequest_Defaults(t *testing.T) {
	req, err := DecodeKickstartRequest([]byte(esx01))
	require.NoError(t, err)

	p := req.Params()
	assert.Equal(t, kickstart.DefaultDevice, p.Device)
	assert.True(t, p.AddVMPortGroup)
	assert.False(t, p.PreserveVMFS)
	assert.Nil(t, p.VLANID)
	assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, p.Nameservers)
	assert.Equal(t, "10.0.0.9", req.AllowedIP)
}

func TestDecodeKickstartRequest_Optionals(t *testing.T) {
	body := `{"hostname":"esx02","rootpw":"h","disk":"d","device":"vmnic1","ip":"10.0.0.6",
		"netmask":"255.255.0.0","gateway":"10.0.0.1","nameserver":["1.1.1.1"],
		"vlanid":20,"addvmportgroup":false,"preservevmfs":true,"allowed_ip":"::ffff:10.0.0.9"}`

	req, err := DecodeKickstartRequest([]byte(body))
	require.NoError(t, err)

	p := req.Params()
	assert.Equal(t, "vmnic1", p.Device)
	require.NotNil(t, p.VLANID)
	assert.Equal(t, 20, *p.VLANID)
	assert.False(t, p.AddVMPortGroup)
	assert.True(t, p.PreserveVMFS)
	assert.Equal(t, "10.0.0.9", req.AllowedIP, "mapped address is unmapped")
}

func TestDecodeKickstartRequest_MissingFields(t *testing.T) {
	_, err := DecodeKickstartRequest([]byte(`{"hostname":"esx01"}`))
	fields := requireFieldErrors(t, err)

	for _, f := range []string{"rootpw", "disk", "ip", "netmask", "gateway", "nameserver", "allowed_ip"} {
		assert.Contains(t, fields, f)
	}
	assert.NotContains(t, fields, "hostname")
}

func TestDecodeKickstartRequest_ShapeErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `hostname=esx01`, "body"},
		{"array body", `[]`, "body"},
		{"wrong type", replace(`"vlanid":"ten",`), "vlanid"},
		{"empty nameserver", bytesReplace(`["8.8.8.8", "8.8.4.4"]`, `[]`), "nameserver"},
		{"nameserver not string", bytesReplace(`["8.8.8.8", "8.8.4.4"]`, `[8]`), "nameserver"},
		{"unknown field", replace(`"kernel":"x",`), "kernel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeKickstartRequest([]byte(tt.body))
			fields := requireFieldErrors(t, err)
			assert.Contains(t, fields, tt.field, fields.Error())
		})
	}
}

func TestDecodeKickstartRequest_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad ip", bytesReplace(`"10.0.0.5"`, `"10.0.0.500"`), "ip"},
		{"ipv6 ip", bytesReplace(`"10.0.0.5"`, `"fe80::1"`), "ip"},
		{"bad gateway", bytesReplace(`"10.0.0.1"`, `"gw"`), "gateway"},
		{"non contiguous netmask", bytesReplace(`"255.255.255.0"`, `"255.0.255.0"`), "netmask"},
		{"bad nameserver", bytesReplace(`"8.8.4.4"`, `"dns.google"`), "nameserver"},
		{"bad allowed ip", bytesReplace(`"10.0.0.9"`, `"anyone"`), "allowed_ip"},
		{"bad hostname", bytesReplace(`"esx01"`, `"esx_01"`), "hostname"},
		{"hostname hyphen", bytesReplace(`"esx01"`, `"-esx01"`), "hostname"},
		{"rootpw whitespace", bytesReplace(`"XYZ"`, `"X Y\nZ"`), "rootpw"},
		{"disk whitespace", bytesReplace(`"mpx.vmhba0"`, `"mpx vmhba0"`), "disk"},
		{"vlan too large", replace(`"vlanid":4095,`), "vlanid"},
		{"vlan negative", replace(`"vlanid":-1,`), "vlanid"},
		{"vlan zero", replace(`"vlanid":0,`), "vlanid"},
		{"vlan fraction", replace(`"vlanid":5.5,`), "vlanid"},
		{"vlan decimal point", replace(`"vlanid":5.0,`), "vlanid"},
		{"vlan exponent", replace(`"vlanid":1e3,`), "vlanid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeKickstartRequest([]byte(tt.body))
			fields := requireFieldErrors(t, err)
			assert.Contains(t, fields, tt.field, fields.Error())
		})
	}
}

func TestDecodeKickstartRequest_VLANBounds(t *testing.T) {
	for _, v := range []string{`"vlanid":1,`, `"vlanid":4094,`} {
		_, err := DecodeKickstartRequest([]byte(replace(v)))
		assert.NoError(t, err, v)
	}
}

func TestValidateHostname(t *testing.T) {
	for _, ok := range []string{"esx01", "esx01.lab.example.com", "a", "esx-01."} {
		assert.NoError(t, ValidateHostname(ok), ok)
	}
	for _, bad := range []string{"", "a..b", "host name", "ésx", string(bytes.Repeat([]byte("a"), 64))} {
		assert.Error(t, ValidateHostname(bad), bad)
	}
}

func TestFieldErrors_Error(t *testing.T) {
	err := FieldErrors{"ip": "bad", "disk": "missing"}
	assert.Equal(t, "invalid request: disk: missing; ip: bad", err.Error())
}

// replace inserts extra members at the start of the esx01 body.
func replace(members string) string {
	return "{" + members + esx01[1:]
}

func bytesReplace(old, new string) string {
	return string(bytes.Replace([]byte(esx01), []byte(old), []byte(new), 1))
}
