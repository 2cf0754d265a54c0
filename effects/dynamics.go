package effects

import (
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// Compressor is a dynamics compressor; only its ratio can be changed.
type Compressor struct {
	*holder
	comp engine.Node
}

func NewCompressor(host modules.Host) *Compressor {
	c := &Compressor{holder: newHolder(host, "compressor", 1, 0)}
	c.comp = host.Ctx.NewCompressor()
	for name, v := range map[string]float64{"threshold": -50, "knee": 40, "ratio": 12, "attack": 0, "release": 0.25} {
		c.comp.Param(name).SetValue(v)
	}
	c.wet.Connect(c.comp)
	c.comp.Connect(c.out)
	c.add(c.comp)
	c.setter("ratio", c.comp.Param("ratio"), 1, 20)
	return c
}

const (
	defaultPanRate   = 0.5
	defaultPanSpread = 0.8
)

// AutoPan sweeps the signal between left and right with a triangle LFO.
type AutoPan struct {
	*holder
	lfo engine.Node
}

func NewAutoPan(host modules.Host) *AutoPan {
	ctx := host.Ctx
	a := &AutoPan{holder: newHolder(host, "auto_pan", 1, 0)}
	a.lfo = ctx.NewOscillator()
	a.lfo.SetType("triangle")
	a.lfo.Param("frequency").SetValue(defaultPanRate)
	depth := ctx.NewGain()
	depth.Param("gain").SetValue(defaultPanSpread)
	pan := ctx.NewStereoPanner()
	a.lfo.Connect(depth)
	depth.ConnectParam(pan.Param("pan"))
	a.wet.Connect(pan)
	pan.Connect(a.out)
	a.add(a.lfo, depth, pan)
	a.sources = append(a.sources, a.lfo)
	a.setter("rate", a.lfo.Param("frequency"), 0, 100)
	a.setter("spread", depth.Param("gain"), 0, 1)
	a.lfo.Start(ctx.CurrentTime())
	return a
}
