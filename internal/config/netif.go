package config

import (
	"net"
	"strings"
)

// IPInfo holds the two address families an interface may carry.
type IPInfo struct {
	IPv4 string
	IPv6 string
}

// interfaceLister is overridden in tests; net.Interfaces/Addrs otherwise.
type interfaceLister interface {
	Interfaces() ([]net.Interface, error)
}

type systemInterfaceLister struct{}

func (systemInterfaceLister) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

var defaultInterfaceLister interfaceLister = systemInterfaceLister{}

func skipInterface(name string) bool {
	return name == "lo" || strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "br-")
}

// hostNetworkCards mirrors GetHostNetworkCard from
// original_source/src/app/source/process/config.cc: enumerate
// interfaces, skip loopback/docker*/br-*, skip interfaces that are down,
// and bucket the remaining addresses by interface name and family.
func hostNetworkCards(lister interfaceLister) map[string]IPInfo {
	out := make(map[string]IPInfo)

	ifaces, err := lister.Interfaces()
	if err != nil {
		return out
	}

	for _, iface := range ifaces {
		if skipInterface(iface.Name) {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		info := out[iface.Name]
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip4 := ip.To4(); ip4 != nil {
				info.IPv4 = ip4.String()
			} else if ip.To16() != nil {
				info.IPv6 = ip.String()
			}
		}
		out[iface.Name] = info
	}

	return out
}

// LocalIP implements spec.md §4.3's local_ip(): if NetworkInterface is set
// and present, use its addresses; otherwise prefer an interface with both
// families, else one with IPv6, else one with IPv4.
func (c ManagerConfig) LocalIP() IPInfo {
	return localIP(c.NetworkInterface, defaultInterfaceLister)
}

func localIP(networkInterface string, lister interfaceLister) IPInfo {
	return selectIP(networkInterface, hostNetworkCards(lister))
}

func selectIP(networkInterface string, cards map[string]IPInfo) IPInfo {
	if networkInterface != "" {
		if info, ok := cards[networkInterface]; ok {
			return info
		}
	}

	var ipv6Only, ipv4Only IPInfo
	for _, info := range cards {
		if info.IPv4 != "" && info.IPv6 != "" {
			return info
		}
		if info.IPv6 != "" && ipv6Only.IPv6 == "" {
			ipv6Only = IPInfo{IPv6: info.IPv6}
		}
		if info.IPv4 != "" && ipv4Only.IPv4 == "" {
			ipv4Only = IPInfo{IPv4: info.IPv4}
		}
	}
	if ipv6Only.IPv6 != "" {
		return ipv6Only
	}
	return ipv4Only
}
