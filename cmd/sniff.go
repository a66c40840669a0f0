// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/kazwalker/dccstation/pkg/dccpkt"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	sniffPort string
	sniffBaud int
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Decode a live DCC packet capture from a serial sniffer",
	Long: `sniff reads a length-prefixed stream of DCC link-layer packets from
an external capture front-end (a serial-connected logic probe sitting on
the track signal or the RailCom UART line) and prints each decoded
packet as it arrives.

Each capture frame is one length byte followed by that many packet
bytes, matching what a simple microcontroller-based sniffer would emit
over its UART.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().StringVarP(&sniffPort, "port", "p", "", "serial port device (e.g. /dev/ttyACM0)")
	sniffCmd.Flags().IntVarP(&sniffBaud, "baud", "b", 115200, "baud rate")
}

func runSniff(cmd *cobra.Command, args []string) error {
	if sniffPort == "" {
		cfg, _, err := loadConfig()
		if err == nil {
			sniffPort = cfg.Serial.Port
			sniffBaud = cfg.Serial.Baud
		}
	}
	if sniffPort == "" {
		return fmt.Errorf("sniff: --port is required (or set serial.port in config)")
	}

	mode := &serial.Mode{
		BaudRate: sniffBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(sniffPort, mode)
	if err != nil {
		return fmt.Errorf("sniff: open %s: %w", sniffPort, err)
	}
	defer port.Close()

	fmt.Printf("dccstation sniff: %s @ %d baud. Ctrl+C to exit.\n", sniffPort, sniffBaud)

	lenBuf := make([]byte, 1)
	for {
		if _, err := readFull(port, lenBuf); err != nil {
			return fmt.Errorf("sniff: read length: %w", err)
		}
		frameLen := int(lenBuf[0])
		if frameLen == 0 {
			continue
		}
		frame := make([]byte, frameLen)
		if _, err := readFull(port, frame); err != nil {
			return fmt.Errorf("sniff: read frame: %w", err)
		}

		p, err := dccpkt.Decode(frame)
		if err != nil {
			fmt.Printf("[%s] decode error: %v\n", time.Now().Format("15:04:05.000"), err)
			continue
		}
		fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05.000"), kindName(p.Type()), dccpkt.Format(p))
	}
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
