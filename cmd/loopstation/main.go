package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/cmd"
	"github.com/vsariola/loopstation/config"
	"github.com/vsariola/loopstation/looper"
	"github.com/vsariola/loopstation/oto"
	"github.com/vsariola/loopstation/scheduler"
	"github.com/vsariola/loopstation/version"
)

func main() {
	configFile := flag.String("config", "", "Read the settings from this file instead of config.yml in the user's config directory.")
	midiInput := flag.String("midi-input", "", "Open the first MIDI input whose name starts with this prefix. Empty uses the configured prefix.")
	tracks := flag.Int("tracks", 0, "Number of tracks. Zero uses the configured count.")
	headless := flag.Bool("headless", false, "Do not open an audio device; the looper runs silently.")
	debug := flag.Bool("debug", false, "Log debug messages.")
	logExport := flag.String("log", "", "Write the latest log entries as JSON to this file on exit.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	history := looper.NewLogHistory(looper.DefaultLogHistorySize)
	log.AddHook(history)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}
	if *tracks > 0 {
		cfg.Tracks.Count = *tracks
	}
	l, err := looper.New(cfg, looper.Options{Log: log})
	if err != nil {
		log.WithError(err).Fatal("could not create looper")
	}
	if path, err := cfg.MappingsPath(); err == nil && path != "" {
		if err := l.LoadMappings(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("could not load midi mappings")
		}
	}

	sched, err := scheduler.New(scheduler.Config{
		BufferSize: cfg.Audio.BufferSize,
		Depth:      cfg.Audio.RingDepth,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}, nil, log.WithField("component", "scheduler"), scheduler.WithDevicePacing())
	if err != nil {
		log.WithError(err).Fatal("could not create scheduler")
	}
	sched.SetFillFunc(l.Fill)

	var audioContext loopstation.AudioContext
	if !*headless {
		c, err := oto.NewContext(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BufferSize*cfg.Audio.RingDepth, oto.Float32, log.WithField("component", "oto"))
		if err != nil {
			log.WithError(err).Fatal("could not acquire oto AudioContext")
		}
		audioContext = c
		output := c.Stream(func(dst []float32) []float32 {
			buf, ok := sched.Pull()
			if !ok {
				return dst
			}
			return buf.Interleave(dst)
		})
		defer output.Close()
	}

	midiContext := cmd.NewMIDIContext(l.Broker().MIDI, log.WithField("component", "midi"))
	defer midiContext.Close()
	prefix := *midiInput
	if prefix == "" {
		prefix = cfg.MIDI.InputPrefix
	}
	if err := midiContext.TryToOpenBy(prefix, false); err != nil {
		log.WithError(err).Warn("could not open midi input")
	}
	if send, err := midiContext.OpenOutput(); err == nil && send != nil {
		l.Router().SetOutput(send)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go l.Run(ctx)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("could not start audio")
	}
	if *headless {
		go pullSilently(ctx, sched)
	}
	log.WithFields(logrus.Fields{"tracks": cfg.Tracks.Count, "bpm": cfg.Transport.BPM}).Info("looper running, press Ctrl+C to quit")
	<-ctx.Done()

	sched.Stop()
	select {
	case <-l.Broker().FinishedLooper:
	case <-time.After(3 * time.Second):
		log.Warn("looper did not finish in time")
	}
	stats := sched.Stats()
	report := l.Metrics().Report(sched.BufferDuration())
	log.WithFields(logrus.Fields{
		"uptime":   report.Uptime.Round(time.Second),
		"blocks":   report.Blocks,
		"glitches": report.Glitches + stats.Glitches,
		"load":     fmt.Sprintf("%.1f%%", report.Load*100),
	}).Info("stopped")
	if audioContext != nil {
		audioContext.Close()
	}
	if *logExport != "" {
		if err := exportLog(history, *logExport); err != nil {
			fmt.Fprintf(os.Stderr, "could not write log: %v\n", err)
			os.Exit(1)
		}
	}
}

// pullSilently stands in for the audio device when there is none, consuming
// one buffer per buffer period.
func pullSilently(ctx context.Context, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(sched.BufferDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.Pull()
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg := config.Make()
	if cfg.YmlError != nil {
		return cfg, fmt.Errorf("%w: config.yml: %v", loopstation.ErrConfiguration, cfg.YmlError)
	}
	return cfg, nil
}

func exportLog(history *looper.LogHistory, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return history.Export(f)
}
