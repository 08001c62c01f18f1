// Package privacy scrubs credentials and personal data from text that leaves
// the process, such as error reports.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|mysql)://\S+`)

	// user:password@tcp(host:port)/db, as produced by the MySQL driver
	dsnPattern = regexp.MustCompile(`\b[^\s:@/]+:[^\s@]*@(tcp|unix)\(`)

	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	mentionPattern  = regexp.MustCompile(`(^|[\s(])@[a-z0-9._]{3,}`)
	identityPattern = regexp.MustCompile(`(?i)\b(user[_-]?id|owner[_-]?id|uid|handle)([=:]\s*)("[^"]*"|\S+)`)
	secretPattern   = regexp.MustCompile(`(?i)\b(token|dsn|password|api[_-]?key)([=:])\S+`)
)

// ScrubMessage removes credentials, email addresses, handles and user ids
// from message. URLs are replaced by a stable anonymous token.
func ScrubMessage(message string) string {
	s := dsnPattern.ReplaceAllString(message, "[REDACTED]@$1(")
	s = urlPattern.ReplaceAllStringFunc(s, AnonymizeURL)
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = secretPattern.ReplaceAllString(s, "$1$2[REDACTED]")
	s = identityPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := identityPattern.FindStringSubmatch(m)
		return parts[1] + parts[2] + HashID(strings.Trim(parts[3], `"`))
	})
	s = mentionPattern.ReplaceAllString(s, "$1@[HANDLE]")
	return s
}

// HashID maps an identifier to a short stable token, so reports about the
// same user can be correlated without naming them.
func HashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("id-%x", sum[:6])
}

// AnonymizeURL keeps a URL's scheme, host category and port and hashes the
// rest. Credentials, query and path never survive.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sum := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", sum[:8])
	}

	parts := []string{u.Scheme, categorizeHost(u.Hostname())}
	if port := u.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if u.Path != "" && u.Path != "/" {
		sum := sha256.Sum256([]byte(u.Path))
		parts = append(parts, fmt.Sprintf("path-%x", sum[:4]))
	}
	return strings.Join(parts, ":")
}

// categorizeHost reduces a host to localhost, an IP class or its TLD
func categorizeHost(host string) string {
	switch {
	case host == "":
		return "no-host"
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

var privatePrefixes = []string{
	"10.", "192.168.", "169.254.",
	"172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
	"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
	"fc00:", "fd00:", "fe80:",
}

func isPrivateIP(host string) bool {
	host = strings.ToLower(host)
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}
