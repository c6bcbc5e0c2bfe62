package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"mcutime/host/mcu"
	"mcutime/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyUSB0", "Serial device path")
	baud    = flag.Int("baud", serial.DefaultBaud, "Baud rate")
	timeout = flag.Int("read-timeout", 100, "Serial read timeout in milliseconds")
)

func main() {
	flag.Parse()

	fmt.Println("mcutime host - MCU clock and delay tester")
	fmt.Println("=========================================")

	mcuConn := mcu.NewMCU()

	fmt.Printf("Connecting to MCU on %s at %d baud...\n", *device, *baud)
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	cfg.ReadTimeout = *timeout
	if err := mcuConn.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	mcuConn.PrintDictionary()

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	repl(mcuConn, os.Stdin, os.Stdout)
}

// repl reads commands until quit or end of input
func repl(m *mcu.MCU, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
			fmt.Fprintln(out, "Goodbye!")
			return
		}
		if err := runCommand(m, args, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func runCommand(m *mcu.MCU, args []string, out io.Writer) error {
	switch args[0] {
	case "help", "?":
		printHelp(out)

	case "dict":
		m.PrintDictionary()

	case "raw":
		raw := m.GetDictionaryRaw()
		fmt.Fprintf(out, "Raw dictionary data (%d bytes):\n%s\n", len(raw), raw)

	case "clock":
		clock, err := m.GetClock()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "clock=%d us\n", clock)

	case "uptime":
		ms, us, err := m.GetUptime()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "uptime ms=%d us=%d\n", ms, us)

	case "cycles":
		cycles, err := m.GetCycles()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "cycles=%d\n", cycles)

	case "reset_cycles":
		if err := m.ResetCycles(); err != nil {
			return err
		}
		fmt.Fprintln(out, "cycle counter reset")

	case "delay_ms", "delay_us":
		n, err := uintArg(args, 1)
		if err != nil {
			return err
		}
		var res mcu.DelayResult
		start := time.Now()
		if args[0] == "delay_ms" {
			res, err = m.DelayMs(n)
		} else {
			res, err = m.DelayUs(n)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d: mcu %d us, %d cycles, round trip %v\n",
			args[0], n, res.Elapsed(), res.Cycles, time.Since(start).Round(time.Microsecond))

	case "calibrate":
		n, err := uintArg(args, 1)
		if err != nil {
			return err
		}
		res, err := m.Calibrate(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "calibrate %d us: tiered=%d reference=%d cycles (%+.1f%%)\n",
			res.Us, res.Tiered, res.Reference, res.ErrorPercent())

	case "drift":
		samples, err := uintArg(args, 1)
		if err != nil {
			return err
		}
		interval := time.Second
		if len(args) > 2 {
			if interval, err = time.ParseDuration(args[2]); err != nil {
				return fmt.Errorf("bad interval %q: %w", args[2], err)
			}
		}
		fmt.Fprintf(out, "measuring drift over %d x %v...\n", samples, interval)
		res, err := m.MeasureDrift(int(samples), interval)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "mcu %v host %v drift %+.1f ppm\n",
			res.MCU, res.Host.Round(time.Microsecond), res.PPM)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
	return nil
}

// uintArg parses args[i] as a uint32
func uintArg(args []string, i int) (uint32, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%s needs an argument", args[0])
	}
	v, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad argument %q: %w", args[i], err)
	}
	return uint32(v), nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	fmt.Fprintln(out, "  help                 - Show this help message")
	fmt.Fprintln(out, "  dict                 - Print dictionary summary")
	fmt.Fprintln(out, "  raw                  - Print raw dictionary data")
	fmt.Fprintln(out, "  clock                - Read the microsecond clock")
	fmt.Fprintln(out, "  uptime               - Read the millisecond and microsecond counters")
	fmt.Fprintln(out, "  cycles               - Read the CPU cycle counter")
	fmt.Fprintln(out, "  reset_cycles         - Zero the CPU cycle counter")
	fmt.Fprintln(out, "  delay_ms N           - Run an N millisecond delay on the MCU")
	fmt.Fprintln(out, "  delay_us N           - Run an N microsecond busy loop on the MCU")
	fmt.Fprintln(out, "  calibrate N          - Compare an N us busy loop with the reference delay")
	fmt.Fprintln(out, "  drift N [interval]   - Compare MCU and host clocks over N samples")
	fmt.Fprintln(out, "  quit/exit/q          - Exit the program")
	fmt.Fprintln(out)
}
