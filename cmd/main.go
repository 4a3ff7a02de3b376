package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/njeffords/gocap"
)

var (
	debug   bool
	iface   string
	snaplen int32
	promisc bool
	count   int32
	timeout time.Duration
)

func main() {
	_ = rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "gocap [filter...]",
	Short: "Capture packets from a given interface, or all interfaces when none is given",
	Long:  `Capture packets from a given interface, or all interfaces when none is given. Remaining arguments are joined into a filter expression.`,
	Run: func(cmd *cobra.Command, args []string) {
		var filter string
		if len(args) >= 1 {
			filter = strings.Join(args, " ")
		}
		if viper.GetBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		iface = viper.GetString("interface")

		fmt.Printf("capturing from interface %q\n", iface)
		handle, err := gocap.OpenLive(iface, snaplen, promisc, 0)
		if err != nil {
			log.Fatal(err)
		}
		defer handle.Close()
		if filter != "" {
			if err := handle.SetBPFFilter(filter); err != nil {
				log.Fatalf("unexpected error setting filter: %v", err)
			}
		}

		if timeout > 0 {
			breaker := handle.LoopBreaker()
			defer breaker.Close()
			timer := time.AfterFunc(timeout, breaker.BreakLoop)
			defer timer.Stop()
		}

		linkType := layers.LinkType(handle.Datalink())
		var n int
		err = handle.Loop(count, func(hdr gocap.PacketHeader, data []byte) {
			processPacket(gopacket.NewPacket(data, linkType, gopacket.Default), hdr, n)
			n++
		})
		if err != nil {
			log.Fatalf("capture loop failed: %v", err)
		}
		fmt.Printf("captured %d packets\n", n)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices and their addresses",
	Run: func(cmd *cobra.Command, args []string) {
		devs, err := gocap.FindAllDevs()
		if err != nil {
			log.Fatal(err)
		}
		defer devs.Close()
		for {
			dev, ok := devs.Next()
			if !ok {
				break
			}
			fmt.Printf("\nName:        %s\n", dev.Name)
			if dev.Description != "" {
				fmt.Printf("Description: %s\n", dev.Description)
			}
			fmt.Printf("Flags:       loopback=%v up=%v running=%v\n",
				dev.IsLoopback(), dev.IsUp(), dev.IsRunning())
			for _, addr := range dev.Addresses {
				if addr.Address == nil {
					continue
				}
				fmt.Printf("             IP: %s", addr.Address.IP)
				if addr.Netmask != nil {
					fmt.Printf("  Netmask: %s", addr.Netmask.IP)
				}
				if addr.Broadcast != nil {
					fmt.Printf("  Broadcast: %s", addr.Broadcast.IP)
				}
				fmt.Println()
			}
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&debug, "debug", false, "print lots of debugging messages")
	rootCmd.Flags().StringVarP(&iface, "interface", "i", "", "interface from which to capture, default to all")
	rootCmd.Flags().Int32Var(&snaplen, "snaplen", 1600, "maximum bytes to capture per packet")
	rootCmd.Flags().BoolVar(&promisc, "promisc", true, "capture in promiscuous mode")
	rootCmd.Flags().Int32Var(&count, "count", 0, "stop after capturing this many packets; 0 means run until stopped")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "stop the capture after the given duration, e.g. 10s, 1m; default 0 means no timeout")
	_ = viper.BindPFlag("interface", rootCmd.Flags().Lookup("interface"))
	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
	viper.SetEnvPrefix("GOCAP")
	viper.AutomaticEnv()
	rootCmd.AddCommand(devicesCmd)
}

func processPacket(packet gopacket.Packet, hdr gocap.PacketHeader, count int) {
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		fmt.Printf("%d: IP packet from src %s to dst %s\n", count, ip.SrcIP, ip.DstIP)
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv6)
		fmt.Printf("%d: IP packet from src %s to dst %s\n", count, ip.SrcIP, ip.DstIP)
	}
	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		fmt.Printf("%d: UDP packet from src port %d to dst port %d\n", count, udp.SrcPort, udp.DstPort)
	}
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		fmt.Printf("%d: TCP packet from src port %d to dst port %d\n", count, tcp.SrcPort, tcp.DstPort)
	}

	data := packet.Data()
	if len(data) > 50 {
		data = data[:50]
	}
	fmt.Printf("%d: at %s size %d (wire %d), first bytes %d\n",
		count, hdr.TS.Time().Format(time.RFC3339Nano), hdr.CapLen, hdr.Len, data)
}
