package loopstation

import "errors"

var (
	// ErrConfiguration is returned when a component is started without a
	// required callback, or with an invalid configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrPermissionDenied is returned when recording is attempted without
	// capture permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO wraps file system and platform transport failures.
	ErrIO = errors.New("i/o failure")
	// ErrProcessingSkipped is returned together with the unmodified input when
	// a processing request arrives while another one is still in flight.
	ErrProcessingSkipped = errors.New("processing skipped")
	ErrUnknownTrack      = errors.New("unknown track")
	ErrUnknownParam      = errors.New("unknown parameter")
	ErrUnknownEffect     = errors.New("unknown effect")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrTrackBusy         = errors.New("track busy")
)
