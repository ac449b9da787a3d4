package preset_test

import (
	"testing"

	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/preset"
)

func TestBuiltinEffectPresets(t *testing.T) {
	presets := preset.Load("")
	p, ok := presets.Find("Spacey Delay")
	if !ok {
		t.Fatal("builtin preset Spacey Delay not found")
	}
	if len(p.Effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(p.Effects))
	}
	reverb, ok := p.Effects[0].Params.(loopstation.ReverbParams)
	if !ok {
		t.Fatalf("first effect should be a reverb, got %T", p.Effects[0].Params)
	}
	if want := (loopstation.ReverbParams{RoomSize: 0.7, Damping: 0.5, Wet: 0.4, Dry: 0.6}); reverb != want {
		t.Fatalf("reverb params %+v, want %+v", reverb, want)
	}
	if !p.Effects[1].Enabled || p.Effects[1].Name != "Delay" || p.Effects[1].Color != "#9C27B0" {
		t.Fatalf("catalog fields not filled in: %+v", p.Effects[1])
	}
	crush, ok := presets.Find("lo-fi crush")
	if !ok {
		t.Fatal("builtin preset Lo-Fi Crush not found")
	}
	if f := crush.Effects[1].Params.(loopstation.FilterParams); f.Type != loopstation.Lowpass || f.Frequency != 2000 || f.Resonance != 3 {
		t.Fatalf("unexpected filter params %+v", f)
	}
}

func TestBuiltinInstrumentPresetDefaults(t *testing.T) {
	presets := preset.Load("")
	p, ok := presets.Find("Standard Kit")
	if !ok || p.Instrument == nil {
		t.Fatal("builtin preset Standard Kit not found")
	}
	drums, ok := p.Instrument.Params.(loopstation.DrumParams)
	if !ok || drums.Kick != 0.8 || drums.Hihat != 0.7 {
		t.Fatalf("expected default drum params, got %+v", p.Instrument.Params)
	}
	pad, _ := presets.Find("Soft Pad")
	synth := pad.Instrument.Params.(loopstation.SynthParams)
	if synth.Oscillator != loopstation.Triangle || synth.Attack != 0.6 {
		t.Fatalf("unexpected pad params %+v", synth)
	}
}

func TestSearch(t *testing.T) {
	presets := preset.Load("")
	if n := len(presets.Search("d:effects")); n != 3 {
		t.Fatalf("expected 3 effect presets, got %d", n)
	}
	res := presets.Search("d:instruments fm")
	if len(res) != 1 || res[0].Name != "FM Bell" {
		t.Fatalf("unexpected search result %+v", res)
	}
	if n := len(presets.Search("t:u")); n != 0 {
		t.Fatalf("expected no user presets, got %d", n)
	}
}

func TestSaveUserPreset(t *testing.T) {
	dir := t.TempDir()
	presets := preset.Load(dir)
	e, _ := loopstation.NewEffect(loopstation.Reverse)
	e.Enabled = false
	if err := presets.Save(dir, preset.Preset{Name: "Back Again", Effects: []loopstation.Effect{e}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	reloaded := preset.Load(dir)
	p, ok := reloaded.Find("Back Again")
	if !ok {
		t.Fatal("saved preset was not loaded back")
	}
	if !p.User || p.Directory != preset.EffectsDir {
		t.Fatalf("unexpected preset location %+v", p)
	}
	if len(p.Effects) != 1 || p.Effects[0].Kind != loopstation.Reverse || p.Effects[0].Enabled {
		t.Fatalf("unexpected effects %+v", p.Effects)
	}
}
