package mdac

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

// SPIController bit-bangs SPI mode 0 on four rack channels: the clock idles
// low, data is set while it is low and sampled on the rising edge, most
// significant bit first, with SS_N held low for the whole frame.
// It implements regbus.Bus.
type SPIController struct {
	rack      *Rack
	edges     *rate.Limiter
	clockFreq float64
}

func newSPIController(r *Rack, bitRate, clockFreq float64) *SPIController {
	lim := rate.Inf
	if bitRate > 0 {
		// two clock edges per bit
		lim = rate.Limit(2 * bitRate)
	}
	return &SPIController{rack: r, edges: rate.NewLimiter(lim, 1), clockFreq: clockFreq}
}

func (s *SPIController) edge(ctx context.Context, line string, high bool) error {
	if err := s.edges.Wait(ctx); err != nil {
		return err
	}
	return s.rack.SetDigital(line, high)
}

// Transfer shifts p out on MOSI.  MISO is not sampled; register writes are
// fire-and-forget.
func (s *SPIController) Transfer(p []byte) error {
	return s.TransferContext(context.Background(), p)
}

// TransferContext is Transfer with a context bounding the edge pacing
func (s *SPIController) TransferContext(ctx context.Context, p []byte) (err error) {
	if err = s.rack.SetDigital(LineSCLK, false); err != nil {
		return err
	}
	if err = s.rack.SetDigital(LineSSN, false); err != nil {
		return err
	}
	defer func() {
		if serr := s.rack.SetDigital(LineSSN, true); serr != nil && err == nil {
			err = serr
		}
	}()
	for i, b := range p {
		for bit := 7; bit >= 0; bit-- {
			if err = s.rack.SetDigital(LineMOSI, (b>>uint(bit))&1 == 1); err != nil {
				return fmt.Errorf("byte %d bit %d: %w", i, bit, err)
			}
			if err = s.edge(ctx, LineSCLK, true); err != nil {
				return fmt.Errorf("byte %d bit %d: %w", i, bit, err)
			}
			if err = s.edge(ctx, LineSCLK, false); err != nil {
				return fmt.Errorf("byte %d bit %d: %w", i, bit, err)
			}
		}
	}
	return nil
}

// ClockEnable starts APBCLK as a square wave between the digital levels, or
// parks it low
func (s *SPIController) ClockEnable(on bool) error {
	if !on {
		return s.rack.SetDigital(LineAPBCLK, false)
	}
	ch, err := s.rack.Channel(LineAPBCLK)
	if err != nil {
		return err
	}
	hi, lo := s.rack.cfg.VHigh, s.rack.cfg.VLow
	return s.rack.SquareWave(ch, s.clockFreq, math.Abs(hi-lo), (hi+lo)/2)
}
