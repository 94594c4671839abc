// Package hexdump renders process memory as annotated hex. Pointer-sized
// words that land inside a known region are listed after each line.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"memhunt/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Palette is the set of colors a dump is drawn with
type Palette struct {
	Address   coloransi.ColorCode
	Hex       coloransi.ColorCode
	Zero      coloransi.ColorCode
	ASCII     coloransi.ColorCode
	NonPrint  coloransi.ColorCode
	Highlight coloransi.ColorCode
	Pointer   coloransi.ColorCode
}

var DefaultPalette = Palette{
	Address:   coloransi.Cyan,
	Hex:       coloransi.Green,
	Zero:      coloransi.BrightBlack,
	ASCII:     coloransi.White,
	NonPrint:  coloransi.Red,
	Highlight: coloransi.Yellow,
	Pointer:   coloransi.ColorOrange,
}

type Options struct {
	// Width is the number of bytes per line, 16 when zero
	Width int

	// Base is the address of data[0]
	Base uint64

	// Color turns on ANSI colors
	Color   bool
	Palette Palette

	// Highlight marks every occurrence of these bytes, typically an encoded
	// scan value
	Highlight []byte

	// Regions enables pointer annotation
	Regions []memory_map.MemoryRegion

	// MaxLines truncates the dump, 0 for no limit
	MaxLines int
}

func DefaultOptions(base uint64) Options {
	return Options{Width: 16, Base: base, Color: true, Palette: DefaultPalette}
}

// String renders data into a string
func String(data []byte, opts Options) string {
	var buf bytes.Buffer
	Dump(&buf, data, opts)
	return buf.String()
}

// Dump writes one line per Width bytes to w
func Dump(w io.Writer, data []byte, opts Options) {
	if opts.Width <= 0 {
		opts.Width = 16
	}
	marked := highlightMask(data, opts.Highlight)

	lines := 0
	for off := 0; off < len(data); off += opts.Width {
		if opts.MaxLines > 0 && lines == opts.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}
		end := min(off+opts.Width, len(data))
		writeLine(w, data[off:end], marked[off:end], opts.Base+uint64(off), opts)
		lines++
	}
}

func highlightMask(data, pattern []byte) []bool {
	mask := make([]bool, len(data))
	if len(pattern) == 0 {
		return mask
	}
	for i := 0; i+len(pattern) <= len(data); i++ {
		if bytes.Equal(data[i:i+len(pattern)], pattern) {
			for j := range pattern {
				mask[i+j] = true
			}
		}
	}
	return mask
}

func (o Options) paint(c coloransi.ColorCode, s string) string {
	if !o.Color {
		return s
	}
	return coloransi.Foreground(c, s)
}

func writeLine(w io.Writer, line []byte, marked []bool, addr uint64, opts Options) {
	var sb strings.Builder
	p := opts.Palette
	half := opts.Width / 2

	sb.WriteString(opts.paint(p.Address, fmt.Sprintf("%016x", addr)))
	sb.WriteString("  ")

	for i := 0; i < opts.Width; i++ {
		if i > 0 {
			if i == half {
				sb.WriteString(" | ")
			} else {
				sb.WriteByte(' ')
			}
		}
		if i >= len(line) {
			sb.WriteString("  ")
			continue
		}

		b := line[i]
		c := p.Hex
		switch {
		case marked[i]:
			c = p.Highlight
		case b == 0:
			c = p.Zero
		}
		sb.WriteString(opts.paint(c, fmt.Sprintf("%02x", b)))
	}

	sb.WriteString("  |")
	for i, b := range line {
		if i == half {
			sb.WriteByte(' ')
		}
		switch {
		case marked[i]:
			sb.WriteString(opts.paint(p.Highlight, printable(b)))
		case b >= 0x20 && b < 0x7f:
			sb.WriteString(opts.paint(p.ASCII, string(rune(b))))
		default:
			sb.WriteString(opts.paint(p.NonPrint, "."))
		}
	}
	sb.WriteByte('|')

	for _, ptr := range Pointers(line, addr, opts.Regions) {
		sb.WriteString(" ")
		sb.WriteString(opts.paint(p.Pointer, ptr.String()))
	}

	sb.WriteByte('\n')
	io.WriteString(w, sb.String())
}

func printable(b byte) string {
	if b >= 0x20 && b < 0x7f {
		return string(rune(b))
	}
	return "."
}

// Pointer is an aligned word in a dump whose value falls inside a region
type Pointer struct {
	At     uint64
	Target uint64
	Region memory_map.MemoryRegion
}

func (p Pointer) String() string {
	label := p.Region.Path
	if label == "" {
		label = p.Region.Category.String()
	}
	return fmt.Sprintf("-> 0x%x %s", p.Target, label)
}

// Pointers scans the 8-byte aligned words of data, which starts at base,
// for values pointing into regions. regions must be sorted by Start.
func Pointers(data []byte, base uint64, regions []memory_map.MemoryRegion) []Pointer {
	if len(regions) == 0 {
		return nil
	}

	var out []Pointer
	first := (8 - base%8) % 8
	for off := first; off+8 <= uint64(len(data)); off += 8 {
		v := binary.LittleEndian.Uint64(data[off:])
		if v == 0 {
			continue
		}
		if r := memory_map.FindRegion(v, regions); r != nil {
			out = append(out, Pointer{At: base + off, Target: v, Region: *r})
		}
	}
	return out
}
