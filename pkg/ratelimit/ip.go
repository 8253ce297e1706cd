package ratelimit

import (
	"net/http"
	"net/url"
	"strings"
)

// Sentinel identifiers returned by ClientIP. Loopback traffic collapses to a
// single identifier so local testing does not fragment counters across
// equivalent localhost representations.
const (
	LocalClient   = "local-dev"
	UnknownClient = "unknown-ip"
)

// ipHeaders in priority order: platform-forwarded, generic proxy-forwarded,
// real-IP, CDN-specific.
var ipHeaders = []string{
	"X-Vercel-Forwarded-For",
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
}

// ClientIP resolves a best-effort client identifier from request headers.
// It never fails; when no header yields a usable value it returns
// UnknownClient.
func ClientIP(header http.Header) string {
	if isLocalOrigin(header.Get("Origin")) {
		return LocalClient
	}

	for _, name := range ipHeaders {
		raw := header.Get(name)
		if raw == "" {
			continue
		}
		// Forwarded headers carry a chain; the first token is the client.
		ip := strings.TrimSpace(strings.Split(raw, ",")[0])
		if ip == "" {
			continue
		}
		ip = strings.TrimPrefix(ip, "::ffff:")
		if isLoopback(ip) {
			return LocalClient
		}
		return ip
	}
	return UnknownClient
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || isLoopback(host)
}
