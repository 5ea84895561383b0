// Package security は外部への送信先の安全性検証を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外部送信で許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// defaultPorts はポート指定の無いURLで使われるポート。
var defaultPorts = []int{80, 443}

// blockedNetworks は送信先として拒否するネットワーク範囲。
// safeurlはDNS解決後のIPアドレスもDialerで検証するため、ここでは静的な事前検証だけに使う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// OutboundGuard は通知Webhookやクロスポストなど、設定された外部エンドポイントへの
// HTTP送信をSSRFから守る。
type OutboundGuard struct {
	ports []int
}

// NewOutboundGuard はエンドポイントURLに明示されたポートを許可リストに加えたOutboundGuardを生成する。
// URLの検証は行わないため、ValidateEndpointで事前に検証すること。
func NewOutboundGuard(endpoints ...string) *OutboundGuard {
	ports := slices.Clone(defaultPorts)
	for _, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Port() == "" {
			continue
		}
		if p, err := strconv.Atoi(u.Port()); err == nil && !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	return &OutboundGuard{ports: ports}
}

// Ports は許可しているポートを返す。
func (g *OutboundGuard) Ports() []int {
	return slices.Clone(g.ports)
}

// Client はSSRF防止機能付きのHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
// DNS解決後にDialerのControlフックで拒否される。
func (g *OutboundGuard) Client(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint は設定されたエンドポイントURLを起動時に静的に検証する。
func ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの形式が不正です: %w", err)
	}
	if !slices.Contains(allowedSchemes, strings.ToLower(parsed.Scheme)) {
		return fmt.Errorf("許可されていないスキームです: %s", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ホストが指定されていません: %s", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("内部ネットワークのアドレスは指定できません: %s", ip)
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("内部ホストは指定できません: %s", host)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
