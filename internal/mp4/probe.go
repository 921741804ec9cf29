package mp4

import (
	"fmt"
	"io"
	"os"

	gomp4 "github.com/abema/go-mp4"

	"github.com/bluenviron/mediacompose/internal/composer"
)

// rotationFromMatrix returns the rotation described by a tkhd matrix.
// Values of the matrix are in 16.16 fixed point.
func rotationFromMatrix(m [9]int32) composer.Rotation {
	const one = 1 << 16

	switch {
	case m[0] == 0 && m[1] == one && m[3] == -one && m[4] == 0:
		return composer.Rotation90
	case m[0] == -one && m[1] == 0 && m[3] == 0 && m[4] == -one:
		return composer.Rotation180
	case m[0] == 0 && m[1] == -one && m[3] == one && m[4] == 0:
		return composer.Rotation270
	}
	return composer.RotationNormal
}

func readRotation(r io.ReadSeeker, trackID int) (composer.Rotation, error) {
	_, err := r.Seek(0, io.SeekStart)
	if err != nil {
		return 0, err
	}

	boxes, err := gomp4.ExtractBoxWithPayload(r, nil, gomp4.BoxPath{
		gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd(),
	})
	if err != nil {
		return 0, err
	}

	for _, box := range boxes {
		tkhd := box.Payload.(*gomp4.Tkhd)
		if int(tkhd.TrackID) == trackID {
			return rotationFromMatrix(tkhd.Matrix), nil
		}
	}

	return composer.RotationNormal, nil
}

// Probe reads metadata of a fragmented MP4 file.
// Errors wrap composer.ErrProbeFailure.
func Probe(path string) (*composer.MediaInfo, error) {
	info, err := probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", composer.ErrProbeFailure, path, err)
	}
	return info, nil
}

func probe(path string) (*composer.MediaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tracks, err := readTracks(f)
	if err != nil {
		return nil, err
	}

	info := &composer.MediaInfo{}
	var video *sourceTrack

	for _, track := range tracks {
		if track.format.DurationUs > info.DurationUs {
			info.DurationUs = track.format.DurationUs
		}

		switch {
		case track.format.IsVideo():
			if video == nil {
				video = track
			}

		case track.format.IsAudio():
			info.HasAudio = true
		}
	}

	if video == nil {
		return nil, fmt.Errorf("no video track found")
	}

	info.Size = composer.Size{Width: video.format.Width, Height: video.format.Height}

	info.Rotation, err = readRotation(f, video.id)
	if err != nil {
		return nil, fmt.Errorf("unable to read rotation: %w", err)
	}

	return info, nil
}
