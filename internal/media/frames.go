package media

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"

	"talksync/internal/domain"
)

const (
	// OutputFrameRate is the engine's fixed output frame rate.
	OutputFrameRate = 25
	// WarmupFrames is added on top of the audio-derived length to cover the
	// model's warm-up window at the head of generation. Verify against the
	// engine's expected input length before changing.
	WarmupFrames = 81
)

// FrameBudget derives the target number of output frames from the audio
// duration: floor(seconds * OutputFrameRate) + WarmupFrames. An explicit
// override wins and the audio file is never opened. Undecodable audio is
// fatal for the request; no default budget is substituted.
func FrameBudget(audioPath string, override *int) (int, error) {
	if override != nil {
		return *override, nil
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return 0, domain.WrapError(domain.CategoryAudioDecode, fmt.Sprintf("open audio %s", audioPath), err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dur, err := dec.Duration()
	if err != nil {
		return 0, domain.WrapError(domain.CategoryAudioDecode, fmt.Sprintf("decode audio %s", audioPath), err)
	}
	if dur <= 0 {
		return 0, domain.NewError(domain.CategoryAudioDecode, fmt.Sprintf("audio %s has no duration", audioPath))
	}

	return int(dur.Seconds()*OutputFrameRate) + WarmupFrames, nil
}
