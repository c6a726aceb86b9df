// Package identity derives the conversation key for an inbound request.
//
// The key is a pure function of the explicit params, the metadata mapping and
// the request headers: the same caller must land on the same session even when
// different optional fields happen to be populated across requests.
package identity

import (
	"fmt"
	"net/http"
	"strings"
)

// Params carries the identity-bearing fields of an invoke request.
type Params struct {
	UserID    string
	OrgID     string
	ChannelID string
	Metadata  map[string]any
}

var (
	userMetaKeys = []string{"user_id", "userId", "user", "telex_user_id"}
	orgMetaKeys  = []string{
		"org_id", "orgId", "organization_id",
		"workspace_id", "team_id", "installation_id",
		"telex_org_id",
	}
)

// Derive returns a stable, non-empty session key. Resolution order: explicit
// fields, metadata alternates, identity headers; with both an org and a user
// identity known the key is "{org}:{user}", otherwise user id, org id, the
// session header, the channel id, and finally "anonymous".
func Derive(p Params, headers http.Header) string {
	userID := norm(p.UserID)
	orgID := norm(p.OrgID)
	channel := norm(p.ChannelID)

	if userID == "" {
		userID = norm(pickMeta(p.Metadata, userMetaKeys))
	}
	if orgID == "" {
		orgID = norm(pickMeta(p.Metadata, orgMetaKeys))
	}

	if userID == "" {
		userID = norm(firstHeader(headers, "X-User-Id", "X-Telex-User-Id"))
	}
	if orgID == "" {
		orgID = norm(firstHeader(headers, "X-Org-Id", "X-Telex-Org-Id", "X-Workspace-Id"))
	}

	if orgID != "" && userID != "" {
		return orgID + ":" + userID
	}

	sessionHdr := norm(headers.Get("X-Session-Id"))
	for _, candidate := range []string{userID, orgID, sessionHdr, channel} {
		if candidate != "" {
			return candidate
		}
	}
	return "anonymous"
}

// norm canonicalizes an identity fragment: trim, lowercase, spaces to
// underscores, truncated to 128 characters.
func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > 128 {
		s = s[:128]
	}
	return s
}

// pickMeta scans metadata case-insensitively for the first of keys holding a
// string or numeric value.
func pickMeta(meta map[string]any, keys []string) string {
	if len(meta) == 0 {
		return ""
	}
	lowered := make(map[string]any, len(meta))
	for k, v := range meta {
		lowered[strings.ToLower(k)] = v
	}
	for _, k := range keys {
		switch v := lowered[strings.ToLower(k)].(type) {
		case string:
			return v
		case float64:
			// JSON numbers decode as float64; ids are whole values.
			return strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}

func firstHeader(headers http.Header, names ...string) string {
	if headers == nil {
		return ""
	}
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}
