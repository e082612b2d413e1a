package selector

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/robertkrimen/otto"
)

const (
	pacDNSCacheTTL     = 5 * time.Minute
	pacDNSNegativeTTL  = 30 * time.Second
	pacDNSLookupTime   = 2 * time.Second
	pacMyIPCacheTTL    = time.Minute
	pacCacheCleanupInt = 10 * time.Minute
	myIPCacheKey       = "\x00myIpAddress"
)

// pacHelpers implements the functions a PAC script may call. Lookups are
// cached across script reloads.
type pacHelpers struct {
	cache    *cache.Cache
	resolver *net.Resolver
}

func newPACHelpers() *pacHelpers {
	return &pacHelpers{
		cache:    cache.New(pacDNSCacheTTL, pacCacheCleanupInt),
		resolver: net.DefaultResolver,
	}
}

func (h *pacHelpers) register(vm *otto.Otto) error {
	funcs := map[string]func(otto.FunctionCall) otto.Value{
		"alert":               pacAlert,
		"isPlainHostName":     pacIsPlainHostName,
		"dnsDomainIs":         pacDNSDomainIs,
		"localHostOrDomainIs": pacLocalHostOrDomainIs,
		"dnsDomainLevels":     pacDNSDomainLevels,
		"shExpMatch":          pacShExpMatch,
		"isResolvable":        h.isResolvable,
		"dnsResolve":          h.dnsResolve,
		"myIpAddress":         h.myIPAddress,
		"isInNet":             h.isInNet,
		"weekdayRange":        func(otto.FunctionCall) otto.Value { return otto.FalseValue() },
		"dateRange":           func(otto.FunctionCall) otto.Value { return otto.FalseValue() },
		"timeRange":           func(otto.FunctionCall) otto.Value { return otto.FalseValue() },
	}
	for name, fn := range funcs {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func boolValue(b bool) otto.Value {
	if b {
		return otto.TrueValue()
	}
	return otto.FalseValue()
}

func stringValue(s string) otto.Value {
	v, err := otto.ToValue(s)
	if err != nil {
		return otto.NullValue()
	}
	return v
}

func pacAlert(call otto.FunctionCall) otto.Value {
	message, _ := call.Argument(0).ToString()
	slog.Warn("pac alert", "message", message)
	return otto.UndefinedValue()
}

func pacIsPlainHostName(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	return boolValue(!strings.Contains(host, ".") && net.ParseIP(host) == nil)
}

func pacDNSDomainIs(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	domain, _ := call.Argument(1).ToString()
	return boolValue(dnsDomainIs(host, domain))
}

func dnsDomainIs(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(domain, "."), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// localHostOrDomainIs is true for an exact match, or when host is unqualified
// and matches the first label of hostdom.
func pacLocalHostOrDomainIs(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	hostdom, _ := call.Argument(1).ToString()
	host, hostdom = strings.ToLower(host), strings.ToLower(hostdom)
	if host == hostdom {
		return otto.TrueValue()
	}
	if strings.Contains(host, ".") {
		return otto.FalseValue()
	}
	first, _, _ := strings.Cut(hostdom, ".")
	return boolValue(host == first)
}

func pacDNSDomainLevels(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	host = strings.TrimSuffix(host, ".")

	levels := 0
	if host != "" && net.ParseIP(host) == nil {
		levels = strings.Count(host, ".")
	}
	v, _ := otto.ToValue(levels)
	return v
}

func pacShExpMatch(call otto.FunctionCall) otto.Value {
	str, _ := call.Argument(0).ToString()
	pattern, _ := call.Argument(1).ToString()
	return boolValue(shExpMatch(str, pattern))
}

// shExpMatch matches str against a shell expression where * and ? match any
// characters, including '/'.
func shExpMatch(str, pattern string) bool {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	re, err := regexp.Compile("^" + quoted + "$")
	if err != nil {
		slog.Warn("pac shExpMatch: bad pattern", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(str)
}

func (h *pacHelpers) dnsResolve(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	ip, ok := h.resolve(host)
	if !ok {
		return otto.NullValue()
	}
	return stringValue(ip)
}

func (h *pacHelpers) isResolvable(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	_, ok := h.resolve(host)
	return boolValue(ok)
}

// resolve returns the first address for host. Failures are cached briefly.
func (h *pacHelpers) resolve(host string) (string, bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", false
	}
	if net.ParseIP(host) != nil {
		return host, true
	}

	if v, found := h.cache.Get(host); found {
		ip := v.(string)
		return ip, ip != ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), pacDNSLookupTime)
	defer cancel()

	ips, err := h.resolver.LookupHost(ctx, host)
	if err != nil || len(ips) == 0 {
		slog.Debug("pac dnsResolve failed", "host", host, "error", err)
		h.cache.Set(host, "", pacDNSNegativeTTL)
		return "", false
	}

	// Prefer IPv4, as most scripts compare against dotted-quad networks.
	ip := ips[0]
	for _, candidate := range ips {
		if parsed := net.ParseIP(candidate); parsed != nil && parsed.To4() != nil {
			ip = candidate
			break
		}
	}
	h.cache.Set(host, ip, cache.DefaultExpiration)
	return ip, true
}

func (h *pacHelpers) myIPAddress(otto.FunctionCall) otto.Value {
	if v, found := h.cache.Get(myIPCacheKey); found {
		return stringValue(v.(string))
	}
	ip := findMyIP()
	h.cache.Set(myIPCacheKey, ip, pacMyIPCacheTTL)
	return stringValue(ip)
}

func findMyIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		slog.Warn("pac myIpAddress: listing interface addresses", "error", err)
		return "127.0.0.1"
	}

	var v6 string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP == nil {
			continue
		}
		ip := ipnet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
		if v6 == "" && ip.IsGlobalUnicast() {
			v6 = ip.String()
		}
	}
	if v6 != "" {
		return v6
	}
	return "127.0.0.1"
}

func (h *pacHelpers) isInNet(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	pattern, _ := call.Argument(1).ToString()
	mask, _ := call.Argument(2).ToString()

	ip, ok := h.resolve(host)
	if !ok {
		return otto.FalseValue()
	}
	return boolValue(ipIsInNet(ip, pattern, mask))
}

func ipIsInNet(ipStr, patternStr, maskStr string) bool {
	ip := net.ParseIP(ipStr)
	pattern := net.ParseIP(patternStr)
	mask := net.ParseIP(maskStr)
	if ip == nil || pattern == nil || mask == nil {
		return false
	}

	if ip4, p4, m4 := ip.To4(), pattern.To4(), mask.To4(); ip4 != nil && p4 != nil && m4 != nil {
		m := net.IPMask(m4)
		return ip4.Mask(m).Equal(p4.Mask(m))
	}
	if ip.To4() != nil || pattern.To4() != nil {
		return false
	}
	m := net.IPMask(mask.To16())
	return ip.To16().Mask(m).Equal(pattern.To16().Mask(m))
}
