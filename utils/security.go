// anonfeedback/utils/security.go
package utils

import (
	"anonfeedback/config"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
)

// GenerateCookie derives the stable pseudonym for a user within one community.
// The same pair always yields the same value and different communities yield
// unrelated values for the same user.
func GenerateCookie(userID, communityID int64) string {
	input := fmt.Sprintf("%d:%d:%s", userID, communityID, config.PseudonymSalt)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:config.PseudonymWidth]
}

// ShortCookie truncates a pseudonym for log output.
func ShortCookie(cookie string) string {
	if len(cookie) > 8 {
		return cookie[:8]
	}
	return cookie
}

// GetIPAddress returns the client address of a request. Proxy headers are
// resolved into RemoteAddr by the RealIP middleware before this runs.
func GetIPAddress(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IsLocalRequest reports whether a request comes from a private or loopback address.
func IsLocalRequest(r *http.Request) bool {
	ip := net.ParseIP(GetIPAddress(r))
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}
