package main

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/fogleman/gg"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/memory/pmm"
)

var (
	memmapTicks   int
	memmapPNG     string
	memmapColumns int
	memmapCell    int
)

func init() {
	cmd := newMemmapCmd()
	cmd.Flags().IntVar(&memmapTicks, "ticks", 0, "Ticks to run before sampling (0 samples right after boot)")
	cmd.Flags().StringVar(&memmapPNG, "png", "", "Render the frame map to this PNG file")
	cmd.Flags().IntVar(&memmapColumns, "columns", 128, "Frames per row in the PNG")
	cmd.Flags().IntVar(&memmapCell, "cell", 4, "Pixel size of one frame in the PNG")
	rootCmd.AddCommand(cmd)
}

func newMemmapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "memmap",
		Short: "Show the boot memory map and taken frames",
		Long: `The memmap command prints the boot memory map the kernel started from
and the coalesced runs of used and reserved frames. With --png it draws one
cell per frame, coloured by state and memory type.

Example:
  kestrelctl memmap
  kestrelctl memmap --ticks 100 --png frames.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemmap(cmd.Context())
		},
	}
}

// MemmapResult is the JSON form of the memmap output.
type MemmapResult struct {
	Map   boot.MemoryMap `json:"map"`
	Taken []pmm.Range    `json:"taken"`
}

func runMemmap(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	k, err := bootKernel(nil)
	if err != nil {
		return err
	}
	defer k.Close()

	if memmapTicks > 0 {
		if err := k.Run(ctx, memmapTicks); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}
	res := MemmapResult{Map: k.Map, Taken: k.Taken()}

	if memmapPNG != "" {
		if err := renderFrameMap(memmapPNG, res, memmapColumns, memmapCell); err != nil {
			return err
		}
		printVerbose("Wrote %s\n", memmapPNG)
	}

	if jsonOut {
		return printJSON(res)
	}
	printMemmap(os.Stdout, res)
	return nil
}

func printMemmap(w io.Writer, res MemmapResult) {
	if quiet {
		return
	}
	fmt.Fprintf(w, "Memory map (%d descriptors, last address %#x):\n", len(res.Map.Descriptors), uint64(res.Map.LastAddr))
	for _, d := range res.Map.Descriptors {
		fmt.Fprintf(w, "  %#012x-%#012x  %-12s %s\n",
			uint64(d.PhysStart), uint64(d.PhysEnd), d.Type, formatPages(d.Size()))
	}
	fmt.Fprintf(w, "\nTaken frames (%d runs):\n", len(res.Taken))
	for _, r := range res.Taken {
		fmt.Fprintf(w, "  %#012x-%#012x  %-8s %s\n",
			uint64(r.Start), uint64(r.End()), r.State, formatPages(r.Len))
	}
}

var (
	freeColor  = color.RGBA{0x1A, 0x1A, 0x1A, 0xFF}
	usedColor  = color.RGBA{0x7D, 0x56, 0xF4, 0xFF}
	holeColor  = color.RGBA{0x38, 0x38, 0x38, 0xFF}
	typeColors = map[boot.MemoryType]color.RGBA{
		boot.Reserved:    {0x66, 0x66, 0x66, 0xFF},
		boot.KernelCode:  {0x04, 0xB5, 0x75, 0xFF},
		boot.KernelStack: {0xFF, 0xA5, 0x00, 0xFF},
		boot.KernelData:  {0x00, 0xD7, 0xFF, 0xFF},
		boot.AcpiData:    {0xFF, 0x4B, 0x4B, 0xFF},
	}
)

// frameColor picks the cell colour of the frame at addr.
func frameColor(res MemmapResult, addr layout.PhysAddr) color.RGBA {
	state := pmm.Free
	for _, r := range res.Taken {
		if addr >= r.Start && addr < r.End() {
			state = r.State
			break
		}
	}
	switch state {
	case pmm.Used:
		return usedColor
	case pmm.Free:
		return freeColor
	}
	t, ok := res.Map.TypeOf(addr)
	if !ok {
		return holeColor
	}
	if c, ok := typeColors[t]; ok {
		return c
	}
	return holeColor
}

// renderFrameMap draws one square per frame, row-major from address 0.
func renderFrameMap(path string, res MemmapResult, columns, cell int) error {
	if columns <= 0 || cell <= 0 {
		return fmt.Errorf("memmap: columns and cell must be positive")
	}
	frames := int(uint64(res.Map.LastAddr) >> layout.PageShift)
	rows := (frames + columns - 1) / columns

	dc := gg.NewContext(columns*cell, rows*cell)
	dc.SetColor(color.Black)
	dc.Clear()
	for f := 0; f < frames; f++ {
		x := float64((f % columns) * cell)
		y := float64((f / columns) * cell)
		dc.SetColor(frameColor(res, layout.PhysAddr(uint64(f)<<layout.PageShift)))
		dc.DrawRectangle(x, y, float64(cell), float64(cell))
		dc.Fill()
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("memmap: write %s: %w", path, err)
	}
	return nil
}
