package netinfo

import (
	"net"
	"strings"
)

// LocalIP returns the address of the interface carrying outbound
// traffic. The UDP "connect" never sends a packet; it only lets the
// kernel pick the source address.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// LocalMAC returns the hardware address of the interface owning the
// local IP, uppercased colon-separated, or "" if it cannot be found.
func LocalMAC() string {
	iface := localInterface()
	if iface == nil || len(iface.HardwareAddr) == 0 {
		return ""
	}
	return strings.ToUpper(iface.HardwareAddr.String())
}

// LocalLinkWired reports whether the active interface looks like a
// wired link, judged by interface naming conventions. Defaults to
// wired when the name is inconclusive.
func LocalLinkWired() bool {
	iface := localInterface()
	if iface == nil {
		return true
	}
	return InterfaceNameWired(iface.Name)
}

// InterfaceNameWired classifies an interface name as wired/wireless.
func InterfaceNameWired(name string) bool {
	n := strings.ToLower(name)
	for _, p := range []string{"wlan", "wlp", "wifi", "wi-fi", "wireless", "ath", "wl"} {
		if strings.HasPrefix(n, p) {
			return false
		}
	}
	return true
}

func localInterface() *net.Interface {
	local := LocalIP()
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.String() == local {
				return &ifaces[i]
			}
		}
	}
	return nil
}
