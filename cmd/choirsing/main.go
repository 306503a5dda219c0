// Command choirsing renders a short sung phrase with the polyphonic
// choral engine and writes it to a 16-bit stereo WAV file.
//
// Usage:
//
//	choirsing [flags]
//
// Examples:
//
//	choirsing -out phrase.wav
//	choirsing -notes 48,55,60,64 -phonemes AA,EH,IY,UW -dur 0.8
//	choirsing -voices 16 -vibrato-depth 0.4 -out chord.wav
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/bretbouchard/choral-v2-sub000/phoneme"
	"github.com/bretbouchard/choral-v2-sub000/voice"
)

const blockSize = 512

func main() {
	rate := flag.Float64("rate", 44100, "sample rate in Hz")
	voices := flag.Int("voices", 8, "polyphony (voice pool size)")
	notes := flag.String("notes", "48,52,55,60", "comma-separated MIDI notes to sing as a chord")
	phonemes := flag.String("phonemes", "AA", "comma-separated phoneme IDs, cycled across the notes")
	dur := flag.Float64("dur", 1.5, "sustain duration in seconds")
	release := flag.Float64("release", 0.4, "release time in seconds")
	vibratoRate := flag.Float64("vibrato-rate", 5.5, "vibrato rate in Hz")
	vibratoDepth := flag.Float64("vibrato-depth", 0.3, "vibrato depth, 0 to 1")
	gain := flag.Float64("gain", 0.8, "master gain")
	out := flag.String("out", "choirsing.wav", "output WAV path")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: choirsing [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Renders a sung chord with the choral synthesis engine.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  choirsing -notes 48,55,60,64 -phonemes AA,EH,IY -out phrase.wav\n")
		fmt.Fprintf(os.Stderr, "  choirsing -voices 16 -vibrato-depth 0.4\n")
	}
	flag.Parse()

	if err := run(*rate, *voices, *notes, *phonemes, *dur, *release,
		*vibratoRate, *vibratoDepth, *gain, *out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(rate float64, voices int, noteList, phonemeList string, dur, release,
	vibratoRate, vibratoDepth, gain float64, out string) error {
	notes, err := parseNotes(noteList)
	if err != nil {
		return err
	}

	inventory := phoneme.DefaultInventory()

	var events []phoneme.Event

	for i, name := range strings.Split(phonemeList, ",") {
		rec := phoneme.Lookup(inventory, strings.TrimSpace(name))
		if rec == nil {
			return fmt.Errorf("unknown phoneme %q", name)
		}

		if i >= len(notes) {
			break
		}

		events = append(events, phoneme.Event{Record: rec})
	}

	m, err := voice.NewManager(rate, voices)
	if err != nil {
		return err
	}

	if err := m.Prepare(rate, blockSize); err != nil {
		return err
	}

	m.SetMasterGain(gain)
	m.SetReleaseTime(release)
	m.SetVibratoRate(vibratoRate)
	m.SetVibratoDepth(vibratoDepth)

	if err := m.QueuePhonemes(events); err != nil {
		return err
	}

	for _, note := range notes {
		if id := m.NoteOn(note, 100); id < 0 {
			return fmt.Errorf("no voice available for note %d", note)
		}
	}

	sustainBlocks := int(dur * rate / blockSize)
	tailBlocks := int((release + 0.2) * rate / blockSize)

	left := make([]float64, blockSize)
	right := make([]float64, blockSize)
	pcm := make([]int16, 0, 2*(sustainBlocks+tailBlocks)*blockSize)

	for b := 0; b < sustainBlocks+tailBlocks; b++ {
		if b == sustainBlocks {
			for _, note := range notes {
				m.NoteOff(note, 0)
			}
		}

		if err := m.Render(left, right, blockSize); err != nil {
			return err
		}

		for i := 0; i < blockSize; i++ {
			pcm = append(pcm, toPCM16(left[i]), toPCM16(right[i]))
		}
	}

	if err := writeWAV(out, pcm, int(rate)); err != nil {
		return err
	}

	stats := m.Snapshot()
	fmt.Printf("wrote %s: %d voices, %d allocations, peak block cost %.0f\n",
		out, stats.MaxVoices, stats.TotalAllocations, stats.PeakBlockCost)

	return nil
}

func parseNotes(s string) ([]int, error) {
	var notes []int

	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("invalid MIDI note %q", field)
		}

		notes = append(notes, n)
	}

	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes given")
	}

	return notes, nil
}

func toPCM16(x float64) int16 {
	if x > 1 {
		x = 1
	}

	if x < -1 {
		x = -1
	}

	return int16(math.Round(x * 32767))
}

func writeWAV(path string, pcm []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataSize := uint32(len(pcm) * 2)

	var header [44]byte
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+dataSize)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], 2) // stereo
	binary.LittleEndian.PutUint32(header[24:], uint32(rate))
	binary.LittleEndian.PutUint32(header[28:], uint32(rate*2*2))
	binary.LittleEndian.PutUint16(header[32:], 4)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataSize)

	if _, err := f.Write(header[:]); err != nil {
		return err
	}

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	if _, err := f.Write(buf); err != nil {
		return err
	}

	return f.Close()
}
