package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ------------------------------------------------------------
// clientIP
//
// 로그를 보낸 쪽의 주소.
// 수집 endpoint 는 주로 내부 서비스가 호출하므로 사설 대역도 그대로 인정한다.
//
// 우선순위:
//  1. X-Forwarded-For 의 첫 번째 유효 주소 (원 요청자)
//  2. X-Real-IP
//  3. RemoteAddr
//
// 어느 것도 파싱되지 않으면 "" (속성을 붙이지 않음).
// ------------------------------------------------------------
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseAddr(part); ok {
				return ip
			}
		}
	}

	if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseAddr(host); ok {
		return ip
	}
	return ""
}

// parseAddr 는 IPv4-mapped IPv6 를 IPv4 로 펴고, zone 은 버린다.
func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}
