package domain

import (
	"encoding/json"
	"fmt"
)

// Tenant identifies the Axiam site a credential or token belongs to. The zero value is
// the anonymous tenant: nothing is known about the site, so no cross-check applies.
type Tenant struct {
	siteID string
}

// SiteTenant returns the tenant for siteID; an empty id yields the anonymous tenant.
func SiteTenant(siteID string) Tenant { return Tenant{siteID: siteID} }

// AnonymousTenant returns the tenant with no site identity.
func AnonymousTenant() Tenant { return Tenant{} }

// SiteID returns the site id and whether the tenant is known.
func (t Tenant) SiteID() (string, bool) { return t.siteID, t.siteID != "" }

func (t Tenant) IsAnonymous() bool { return t.siteID == "" }

// Conflicts reports whether both tenants are known and name different sites.
func (t Tenant) Conflicts(other Tenant) bool {
	return !t.IsAnonymous() && !other.IsAnonymous() && t.siteID != other.siteID
}

func (t Tenant) String() string {
	if t.IsAnonymous() {
		return "anonymous"
	}
	return t.siteID
}

// SiteID is a site identifier as it appears on the wire. Axiam and older relay tokens
// send it as a JSON number, newer ones as a string; both decode to the same text.
type SiteID string

func (s *SiteID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = SiteID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("site_id: %w", err)
	}
	*s = SiteID(n.String())
	return nil
}

// Tenant converts the wire id into a Tenant.
func (s SiteID) Tenant() Tenant { return SiteTenant(string(s)) }
