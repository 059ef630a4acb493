// ABOUTME: Built-in systeminfo command backed by gopsutil
// ABOUTME: Reports host, CPU, memory, disk and network details as plain text

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

func toGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

// systemInfo collects a host summary. Sections that cannot be read are
// reported inline rather than failing the whole command.
func systemInfo(ctx context.Context) string {
	var b strings.Builder

	if info, err := host.InfoWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Host Name:      %s\n", info.Hostname)
		fmt.Fprintf(&b, "OS Name:        %s %s %s\n", info.OS, info.Platform, info.PlatformVersion)
		fmt.Fprintf(&b, "Kernel:         %s (%s)\n", info.KernelVersion, info.KernelArch)
		fmt.Fprintf(&b, "Uptime:         %dh %dm\n", info.Uptime/3600, (info.Uptime%3600)/60)
	} else {
		fmt.Fprintf(&b, "Host:           unavailable (%v)\n", err)
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		logical, _ := cpu.CountsWithContext(ctx, true)
		fmt.Fprintf(&b, "Processor:      %s, %d logical cores, %.0f MHz\n", cpus[0].ModelName, logical, cpus[0].Mhz)
	} else if err != nil {
		fmt.Fprintf(&b, "Processor:      unavailable (%v)\n", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Fprintf(&b, "Memory:         %.2f GB total, %.2f GB used (%.1f%%)\n",
			toGB(vm.Total), toGB(vm.Used), vm.UsedPercent)
	} else {
		fmt.Fprintf(&b, "Memory:         unavailable (%v)\n", err)
	}

	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		b.WriteString("Disks:\n")
		for _, part := range parts {
			usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "  %s on %s (%s): %.2f GB, %.1f%% used\n",
				part.Device, part.Mountpoint, part.Fstype, toGB(usage.Total), usage.UsedPercent)
		}
	}

	if ifaces, err := net.InterfacesWithContext(ctx); err == nil {
		b.WriteString("Network:\n")
		for _, iface := range ifaces {
			addrs := make([]string, 0, len(iface.Addrs))
			for _, a := range iface.Addrs {
				addrs = append(addrs, a.Addr)
			}
			fmt.Fprintf(&b, "  %s %s %s\n", iface.Name, iface.HardwareAddr, strings.Join(addrs, ", "))
		}
	}

	return b.String()
}
