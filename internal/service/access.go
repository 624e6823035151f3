package service

import (
	"crypto/subtle"
	"net/netip"

	"github.com/templui/kickstart/internal/model"
)

// AccessGate decides who may fetch an artifact and who may create or
// upload.
type AccessGate struct {
	tokens []model.APIToken
}

func NewAccessGate(tokens []model.APIToken) *AccessGate {
	return &AccessGate{tokens: tokens}
}

// Authenticate returns the label of the matching API token. Every token
// is compared so the time taken does not depend on which one matched.
func (g *AccessGate) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	label, found := "", false
	for _, t := range g.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 && !found {
			label, found = t.Label, true
		}
	}
	return label, found
}

// AllowRetrieve reports whether requesterIP is the address the artifact
// was issued to. Addresses are compared exactly after unmapping
// IPv4-in-IPv6 forms.
func (g *AccessGate) AllowRetrieve(artifact *model.Artifact, requesterIP string) bool {
	allowed, err := netip.ParseAddr(artifact.AllowedIP)
	if err != nil {
		return false
	}
	requester, err := netip.ParseAddr(requesterIP)
	if err != nil {
		return false
	}
	return allowed.Unmap() == requester.Unmap()
}
