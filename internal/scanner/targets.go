package scanner

import (
	"net/netip"
	"strings"
)

// MaxHostsPerNetwork 单个网段最多展开的主机数
const MaxHostsPerNetwork = 256

// ExpandTargets 将主机/CIDR列表展开为去重后的主机地址列表，保持首次出现的顺序。
// 无法解析的字符串按主机名原样保留。
func ExpandTargets(targets []string) []string {
	var hosts []string
	seen := make(map[string]bool)

	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}

		for _, host := range expandTarget(target) {
			if seen[host] {
				continue
			}
			seen[host] = true
			hosts = append(hosts, host)
		}
	}

	return hosts
}

func expandTarget(target string) []string {
	if addr, err := netip.ParseAddr(target); err == nil {
		return []string{addr.String()}
	}

	prefix, err := netip.ParsePrefix(target)
	if err != nil {
		// 既不是地址也不是网段，当作主机名
		return []string{target}
	}

	return networkHosts(prefix.Masked())
}

// networkHosts 返回网段内可用的主机地址，最多 MaxHostsPerNetwork 个
func networkHosts(prefix netip.Prefix) []string {
	network := prefix.Addr()
	hostBits := network.BitLen() - prefix.Bits()

	// /31、/32、/127、/128 没有可用主机，退回网络地址本身
	if hostBits <= 1 {
		return []string{network.String()}
	}

	var hosts []string
	for addr := network.Next(); addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
		if network.Is4() && isBroadcast(addr, prefix) {
			break
		}
		hosts = append(hosts, addr.String())
		if len(hosts) >= MaxHostsPerNetwork {
			break
		}
	}

	if len(hosts) == 0 {
		return []string{network.String()}
	}
	return hosts
}

// isBroadcast 判断是否为IPv4广播地址（网段最后一个地址）
func isBroadcast(addr netip.Addr, prefix netip.Prefix) bool {
	next := addr.Next()
	return !next.IsValid() || !prefix.Contains(next)
}
